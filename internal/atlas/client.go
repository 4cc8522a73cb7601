// Package atlas manages Atlas Search index definitions through the Atlas
// management API. Requests are authenticated with HTTP digest auth.
package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mongodb-forks/digest"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/metrics"
)

// Index is a search index descriptor as returned by the management API.
type Index struct {
	IndexID        string         `json:"indexID"`
	Name           string         `json:"name"`
	CollectionName string         `json:"collectionName"`
	Database       string         `json:"database"`
	Status         string         `json:"status,omitempty"`
	Analyzer       string         `json:"analyzer,omitempty"`
	SearchAnalyzer string         `json:"searchAnalyzer,omitempty"`
	Mappings       map[string]any `json:"mappings,omitempty"`
}

// Client calls the Atlas Search index endpoints of one cluster.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	groupID     string
	clusterName string
	database    string
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the digest authenticated HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the management API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a management client for the configured group and cluster.
// Indexes are created in database.
func NewClient(cfg config.AtlasConfig, database string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     cfg.BaseURL,
		groupID:     cfg.GroupID,
		clusterName: cfg.ClusterName,
		database:    database,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc, err := digest.NewTransport(cfg.PublicKey, cfg.PrivateKey).Client()
		if err != nil {
			return nil, fmt.Errorf("failed to create digest client: %w", err)
		}
		hc.Timeout = time.Duration(cfg.Timeout) * time.Second
		c.httpClient = hc
	}
	if c.baseURL == "" {
		c.baseURL = "https://cloud.mongodb.com/api/atlas/v1.0"
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.logger = logger.OrNop(c.logger)
	return c, nil
}

func (c *Client) indexesPath(parts ...string) string {
	p := []string{c.baseURL, "groups", url.PathEscape(c.groupID), "clusters", url.PathEscape(c.clusterName), "fts", "indexes"}
	for _, part := range parts {
		p = append(p, url.PathEscape(part))
	}
	return strings.Join(p, "/")
}

// CreateIndex creates a search index. Keys in settings override the generated
// collectionName, database and name.
func (c *Client) CreateIndex(ctx context.Context, name, collection string, settings map[string]any) (*Index, error) {
	body := map[string]any{
		"collectionName": collection,
		"database":       c.database,
		"name":           name,
	}
	for k, v := range settings {
		body[k] = v
	}

	var index Index
	if err := c.do(ctx, http.MethodPost, c.indexesPath(), body, &index); err != nil {
		return nil, err
	}
	c.logger.Info("created search index", zap.String("name", index.Name), zap.String("indexID", index.IndexID))
	return &index, nil
}

// ListIndexes returns the search indexes defined on collection.
func (c *Client) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	var indexes []Index
	if err := c.do(ctx, http.MethodGet, c.indexesPath(c.database, collection), nil, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// FindIndexByName returns the id of the index called name on collection, or
// an empty string if there is none.
func (c *Client) FindIndexByName(ctx context.Context, name, collection string) (string, error) {
	indexes, err := c.ListIndexes(ctx, collection)
	if err != nil {
		return "", err
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return idx.IndexID, nil
		}
	}
	return "", nil
}

// DeleteIndex removes the index called name on collection. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, name, collection string) error {
	id, err := c.FindIndexByName(ctx, name, collection)
	if err != nil {
		return err
	}
	if id == "" {
		c.logger.Info("search index not found, nothing to delete", zap.String("name", name), zap.String("collection", collection))
		return nil
	}

	if err := c.do(ctx, http.MethodDelete, c.indexesPath(id), nil, nil); err != nil {
		return err
	}
	c.logger.Info("deleted search index", zap.String("name", name), zap.String("indexID", id))
	return nil
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return transportError(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ManagementRequestsTotal.WithLabelValues(method, "error").Inc()
		c.logger.Error("atlas api request failed", zap.String("method", method), zap.Error(err))
		return transportError(err)
	}
	defer resp.Body.Close()

	metrics.ManagementRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		apiErr := errorFromStatus(resp.StatusCode, eb.Detail)
		c.logger.Warn("atlas api returned an error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", eb.Detail))
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return transportError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
