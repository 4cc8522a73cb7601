package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Search backends
const (
	BackendAtlas = "atlas"
	BackendLocal = "local"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Atlas   AtlasConfig   `mapstructure:"atlas"`
	Search  SearchConfig  `mapstructure:"search"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Indexes []IndexConfig `mapstructure:"indexes" validate:"dive"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`
}

// MongoDBConfig contains MongoDB connection settings
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Timeout  int    `mapstructure:"timeout"` // in seconds
}

// AtlasConfig contains the Atlas management API settings used for search index administration
type AtlasConfig struct {
	PublicKey   string `mapstructure:"public_key"`
	PrivateKey  string `mapstructure:"private_key"`
	GroupID     string `mapstructure:"group_id"`
	ClusterName string `mapstructure:"cluster_name"`
	BaseURL     string `mapstructure:"base_url"`
	Timeout     int    `mapstructure:"timeout"` // in seconds
}

// SearchConfig contains query settings
type SearchConfig struct {
	Backend         string `mapstructure:"backend" validate:"oneof=atlas local"`
	DefaultPageSize int    `mapstructure:"default_page_size" validate:"min=1"`
	MaxPageSize     int    `mapstructure:"max_page_size" validate:"min=1"`
	IndexPath       string `mapstructure:"index_path"` // local backend only; empty keeps indexes in memory
}

// CacheConfig contains the Redis result cache settings. An empty address disables caching.
type CacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	TTL      int    `mapstructure:"ttl" validate:"min=1"` // in seconds
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Env   string `mapstructure:"env" validate:"oneof=prod local dev"`
	Level string `mapstructure:"level"`
}

// IndexConfig describes a searchable collection and the Atlas Search index backing it
type IndexConfig struct {
	Name            string          `mapstructure:"name" validate:"required"`
	Collection      string          `mapstructure:"collection" validate:"required"`
	TextPaths       []string        `mapstructure:"text_paths"`
	DefaultSort     string          `mapstructure:"default_sort"`
	DefaultOrder    string          `mapstructure:"default_order"`
	IDField         string          `mapstructure:"id_field"`          // numeric id matched by the id filter
	PrimaryKeyField string          `mapstructure:"primary_key_field"` // published as objectId
	SettingsFile    string          `mapstructure:"settings_file"`     // Atlas index definition (json or yaml)
	Definition      IndexDefinition `mapstructure:"definition"`        // field mappings for the local backend
}

// IndexDefinition mirrors MongoDB Atlas Search index structure
type IndexDefinition struct {
	Mappings IndexMappings `mapstructure:"mappings"`
}

// IndexMappings contains field mappings for the index
type IndexMappings struct {
	Dynamic bool          `mapstructure:"dynamic"`
	Fields  []FieldConfig `mapstructure:"fields"`
}

// FieldConfig represents field-specific indexing configuration
type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Analyzer string `mapstructure:"analyzer,omitempty"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/atlas-search-query")
	}

	v.SetEnvPrefix("ASQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mongodb.timeout", 30)
	v.SetDefault("atlas.base_url", "https://cloud.mongodb.com/api/atlas/v1.0")
	v.SetDefault("atlas.timeout", 30)
	v.SetDefault("search.backend", BackendAtlas)
	v.SetDefault("search.default_page_size", 20)
	v.SetDefault("search.max_page_size", 100)
	v.SetDefault("cache.ttl", 60)
	v.SetDefault("logging.env", "prod")
	v.SetDefault("logging.level", "")
}

// Validate checks struct constraints and index name uniqueness
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			return fmt.Errorf("field '%s' failed '%s' validation", validationErrs[0].Namespace(), validationErrs[0].Tag())
		}
		return err
	}

	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size %d exceeds search.max_page_size %d", c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}

	seen := make(map[string]bool, len(c.Indexes))
	for _, idx := range c.Indexes {
		if seen[idx.Name] {
			return fmt.Errorf("duplicate index name %q", idx.Name)
		}
		seen[idx.Name] = true
	}
	return nil
}

// Index returns the configured index with the given name
func (c *Config) Index(name string) (IndexConfig, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexConfig{}, false
}

// GetMongoURI returns the complete MongoDB connection URI
func (c *MongoDBConfig) GetMongoURI() string {
	if c.URI != "" {
		return c.URI
	}

	// Build URI from components if not provided directly
	uri := "mongodb://"
	if c.Username != "" && c.Password != "" {
		uri += fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}
	uri += "localhost:27017"
	return uri
}

// LoadIndexSettings reads an Atlas Search index definition from a json or yaml file.
// Keys are kept verbatim; viper would lowercase them.
func LoadIndexSettings(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read index settings %s: %w", path, err)
	}

	settings := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse index settings %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse index settings %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported index settings format %q", filepath.Ext(path))
	}
	return settings, nil
}
