package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
)

var (
	indexName       string
	indexCollection string
	indexSettings   string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage Atlas Search indexes",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a search index",
	Long: `Create a search index on a collection. Index settings are read from a json or
yaml file and sent as-is. Without --settings the settings_file of the configured
index of the same name is used; without either the index uses dynamic mappings.`,
	RunE: runIndexCreate,
}

var indexFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Print the id of a search index",
	RunE:  runIndexFind,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a search index if it exists",
	RunE:  runIndexDelete,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexCreateCmd, indexFindCmd, indexDeleteCmd)

	indexCmd.PersistentFlags().StringVar(&indexName, "name", "", "search index name")
	indexCmd.PersistentFlags().StringVar(&indexCollection, "collection", "", "collection the index belongs to")
	_ = indexCmd.MarkPersistentFlagRequired("name")
	_ = indexCmd.MarkPersistentFlagRequired("collection")

	indexCreateCmd.Flags().StringVar(&indexSettings, "settings", "", "index settings file (.json, .yaml)")
}

// settingsPath prefers the --settings flag, then the settings_file of the configured index.
func settingsPath(cfg *config.Config, name, flag string) string {
	if flag != "" {
		return flag
	}
	if idx, ok := cfg.Index(name); ok {
		return idx.SettingsFile
	}
	return ""
}

func managementContext(a *app) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(a.cfg.Atlas.Timeout+5)*time.Second)
}

func runIndexCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	settings, err := config.LoadIndexSettings(settingsPath(a.cfg, indexName, indexSettings))
	if err != nil {
		return err
	}

	ctx, cancel := managementContext(a)
	defer cancel()

	index, err := a.indexes.CreateIndex(ctx, indexName, indexCollection, settings)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}
	a.logger.Info("created search index",
		zap.String("name", index.Name),
		zap.String("collection", index.CollectionName),
		zap.String("indexID", index.IndexID))

	out, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runIndexFind(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx, cancel := managementContext(a)
	defer cancel()

	id, err := a.indexes.FindIndexByName(ctx, indexName, indexCollection)
	if err != nil {
		return fmt.Errorf("failed to find index %s: %w", indexName, err)
	}
	if id == "" {
		return fmt.Errorf("index %s not found on collection %s", indexName, indexCollection)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx, cancel := managementContext(a)
	defer cancel()

	if err := a.indexes.DeleteIndex(ctx, indexName, indexCollection); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", indexName, err)
	}
	a.logger.Info("deleted search index", zap.String("name", indexName), zap.String("collection", indexCollection))
	return nil
}
