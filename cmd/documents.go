package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/internal/indexer"
)

var (
	documentsFile  string
	documentIndex  string
	documentID     string
	ignoreNotFound bool
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Index and delete searchable documents",
}

var documentsIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Bulk upsert prepared documents from a json file",
	Long: `Bulk upsert prepared documents. The file holds a json array of
{"indexName", "indexedDocumentId", "document"} objects; each document is written
to the collection named by the index name up to the first "__".`,
	RunE: runDocumentsIndex,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an indexed document",
	RunE:  runDocumentsDelete,
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsIndexCmd, documentsDeleteCmd)

	documentsIndexCmd.Flags().StringVar(&documentsFile, "file", "", "json file with prepared documents")
	_ = documentsIndexCmd.MarkFlagRequired("file")

	documentsDeleteCmd.Flags().StringVar(&documentIndex, "index", "", "index name the document was indexed under")
	documentsDeleteCmd.Flags().StringVar(&documentID, "id", "", "indexed document id")
	documentsDeleteCmd.Flags().BoolVar(&ignoreNotFound, "ignore-not-found", false, "succeed when the document does not exist")
	_ = documentsDeleteCmd.MarkFlagRequired("index")
	_ = documentsDeleteCmd.MarkFlagRequired("id")
}

func runDocumentsIndex(cmd *cobra.Command, args []string) error {
	f, err := os.Open(filepath.Clean(documentsFile))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", documentsFile, err)
	}
	defer f.Close()

	docs, err := indexer.ReadDocuments(f)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	result, err := a.indexer.BulkIndex(cmd.Context(), docs)
	if err != nil {
		return err
	}
	a.logger.Info("bulk index finished",
		zap.Int("documents", result.DocumentCount),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", len(result.Errors)))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if len(result.Errors) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(result.Errors), result.DocumentCount)
	}
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	status := a.indexer.DeleteIndexedDocument(cmd.Context(), documentIndex, indexer.ParseID(documentID), ignoreNotFound)
	if !status.OK() {
		return fmt.Errorf("failed to delete document %s from %s: %s", documentID, documentIndex, status.Error)
	}
	a.logger.Info("deleted indexed document", zap.String("index", documentIndex), zap.String("id", documentID))
	return nil
}
