// Package config loads HelixDB configuration from a YAML file with
// HELIXDB_* environment overrides.
//
// Example helixdb.yaml:
//
//	db_max_size_gb: 20
//	vector_config:
//	  m: 16
//	  ef_construction: 200
//	  ef_search: 100
//	  dimension: 1024
//	graph_config:
//	  secondary_indices: [name, email]
//	bm25:
//	  enabled: true
//	embedding_model: mxbai-embed-large
//	graphvis_node_label: User
//
// Load the file (missing files fall back to defaults), apply environment
// overrides, then Validate before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full engine and gateway configuration.
type Config struct {
	// DataDir is the environment directory.
	DataDir string `yaml:"data_dir"`

	// DBMaxSizeGB sets the storage engine's value-log file size; the total
	// environment size is not capped.
	DBMaxSizeGB int `yaml:"db_max_size_gb"`

	// VectorConfig holds the HNSW parameters.
	VectorConfig VectorConfig `yaml:"vector_config"`

	// GraphConfig holds graph-side options.
	GraphConfig GraphConfig `yaml:"graph_config"`

	// BM25 controls the keyword index.
	BM25 BM25Config `yaml:"bm25"`

	// EmbeddingModel names the model used by the search_vector_text tool.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingURL is the embeddings endpoint base URL.
	EmbeddingURL string `yaml:"embedding_url"`

	// GraphvisNodeLabel is the default label shown in the visualiser.
	GraphvisNodeLabel string `yaml:"graphvis_node_label"`

	// Server holds the HTTP gateway settings.
	Server ServerConfig `yaml:"server"`

	// Auth holds the gateway authentication settings.
	Auth AuthConfig `yaml:"auth"`
}

// VectorConfig mirrors the HNSW parameters.
type VectorConfig struct {
	M              int  `yaml:"m"`
	EfConstruction int  `yaml:"ef_construction"`
	EfSearch       int  `yaml:"ef_search"`
	Dimension      int  `yaml:"dimension"`
	Float64        bool `yaml:"float64"`
	Cosine         bool `yaml:"cosine"`
}

// GraphConfig holds graph-side options.
type GraphConfig struct {
	// SecondaryIndices lists property names maintained in the secondary
	// index.
	SecondaryIndices []string `yaml:"secondary_indices"`
}

// BM25Config controls the keyword index.
type BM25Config struct {
	Enabled bool `yaml:"enabled"`
}

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Workers is the fixed worker-pool size. 0 means NumCPU.
	Workers int `yaml:"workers"`
}

// AuthConfig enables basic auth on the gateway.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// AdminPassword is checked against the request's basic-auth password.
	AdminPassword string `yaml:"admin_password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:     "./data",
		DBMaxSizeGB: 10,
		VectorConfig: VectorConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
		BM25:           BM25Config{Enabled: true},
		EmbeddingModel: "text-embedding-ada-002",
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    6969,
		},
	}
}

// Load reads path into the defaults. A missing file is not an error;
// environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers HELIXDB_* variables over the file values.
func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("HELIXDB_DATA_DIR", &c.DataDir)
	num("HELIXDB_DB_MAX_SIZE_GB", &c.DBMaxSizeGB)
	num("HELIXDB_VECTOR_M", &c.VectorConfig.M)
	num("HELIXDB_VECTOR_EF_CONSTRUCTION", &c.VectorConfig.EfConstruction)
	num("HELIXDB_VECTOR_EF_SEARCH", &c.VectorConfig.EfSearch)
	num("HELIXDB_VECTOR_DIMENSION", &c.VectorConfig.Dimension)
	boolean("HELIXDB_BM25_ENABLED", &c.BM25.Enabled)
	str("HELIXDB_EMBEDDING_MODEL", &c.EmbeddingModel)
	str("HELIXDB_EMBEDDING_URL", &c.EmbeddingURL)
	str("HELIXDB_GRAPHVIS_NODE_LABEL", &c.GraphvisNodeLabel)
	str("HELIXDB_HTTP_ADDRESS", &c.Server.Address)
	num("HELIXDB_HTTP_PORT", &c.Server.Port)
	num("HELIXDB_WORKERS", &c.Server.Workers)
	boolean("HELIXDB_AUTH_ENABLED", &c.Auth.Enabled)
	str("HELIXDB_AUTH_ADMIN_PASSWORD", &c.Auth.AdminPassword)

	if v := os.Getenv("HELIXDB_SECONDARY_INDICES"); v != "" {
		parts := strings.Split(v, ",")
		indices := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				indices = append(indices, p)
			}
		}
		c.GraphConfig.SecondaryIndices = indices
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.DBMaxSizeGB < 0 {
		return fmt.Errorf("db_max_size_gb must be non-negative")
	}
	if c.VectorConfig.M < 0 || c.VectorConfig.EfConstruction < 0 || c.VectorConfig.EfSearch < 0 {
		return fmt.Errorf("vector_config values must be non-negative")
	}
	if c.VectorConfig.Dimension < 0 {
		return fmt.Errorf("vector_config.dimension must be non-negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.AdminPassword == "" {
		return fmt.Errorf("auth.admin_password is required when auth is enabled")
	}
	return nil
}
