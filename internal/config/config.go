package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/gallery/config.json"
	defaultContainer  = "uploads"
	defaultWorkers    = 4
	defaultMaxDim     = 3000
)

// Environment variables consulted by Load.
const (
	EnvConfigPath       = "GALLERY_CONFIG"
	EnvConnectionString = "AZURE_STORAGE_CONNECTION_STRING"
	EnvContainer        = "AZURE_STORAGE_CONTAINER"
)

// Config holds user-editable settings for the gallery.
type Config struct {
	Server   Server   `json:"server" yaml:"server"`
	Paths    Paths    `json:"paths" yaml:"paths"`
	Pipeline Pipeline `json:"pipeline" yaml:"pipeline"`
	Storage  Storage  `json:"storage" yaml:"storage"`
	Logging  Logging  `json:"logging" yaml:"logging"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr          string `json:"addr" yaml:"addr"`
	MaxUploadMB   int64  `json:"max_upload_mb" yaml:"max_upload_mb"`
	RecentUploads int    `json:"recent_uploads" yaml:"recent_uploads"`
}

// Paths configures on-disk locations.
type Paths struct {
	RawDir       string `json:"raw_dir" yaml:"raw_dir"`
	ProcessedDir string `json:"processed_dir" yaml:"processed_dir"`
	MetadataFile string `json:"metadata_file" yaml:"metadata_file"`
	StaticDir    string `json:"static_dir" yaml:"static_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// Pipeline controls the batch run.
type Pipeline struct {
	Extensions   []string `json:"extensions" yaml:"extensions"`
	MaxDimension int      `json:"max_dimension" yaml:"max_dimension"` // 0 disables resizing
	JPEGQuality  int      `json:"jpeg_quality" yaml:"jpeg_quality"`
	Workers      int      `json:"workers" yaml:"workers"`
}

// Storage configures the optional Azure blob store. An empty connection
// string keeps uploads local-only.
type Storage struct {
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
	Container        string `json:"container" yaml:"container"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is applied to the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadFile(Path())
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Path returns the configured config file location, unexpanded.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// LoadFile decodes the file at path over the defaults. A missing file yields
// the defaults; .yaml and .yml files are decoded as YAML, anything else as JSON.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvConnectionString); ok {
		c.Storage.ConnectionString = v
	}
	if v := os.Getenv(EnvContainer); v != "" {
		c.Storage.Container = v
	}
	if c.Storage.Container == "" {
		c.Storage.Container = defaultContainer
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Addr:          ":8080",
			MaxUploadMB:   32,
			RecentUploads: 50,
		},
		Paths: Paths{
			RawDir:       "assets/photos_raw",
			ProcessedDir: "assets/photos_processed",
			MetadataFile: "assets/data/photos.json",
			DatabasePath: filepath.Join(os.TempDir(), "gallery.db"),
		},
		Pipeline: Pipeline{
			Extensions:   []string{".jpg", ".jpeg", ".png"},
			MaxDimension: defaultMaxDim,
			JPEGQuality:  90,
			Workers:      defaultWorkers,
		},
		Storage: Storage{
			Container: defaultContainer,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
