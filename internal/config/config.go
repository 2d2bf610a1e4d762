package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Store   StoreConfig
	Fetch   FetchConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	RootDir         string
	CropConcurrency int
}

type StoreConfig struct {
	Backend       string
	DatabasePath  string
	MongoURI      string
	MongoDatabase string
}

type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

// IngestConfig throttles image loads per client. A zero rate disables it.
type IngestConfig struct {
	Rate  float64
	Burst float64
}

type LogConfig struct {
	Level slog.Level
}

// Load reads configuration from command-line args, then the environment,
// then defaults, in that order of precedence.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("root_dir", "./data/images")
	v.SetDefault("crop_concurrency", 0)
	v.SetDefault("store", StoreSQLite)
	v.SetDefault("database_path", "tilecrop.db")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "tilecrop")
	v.SetDefault("fetch_timeout", 30*time.Second)
	v.SetDefault("max_fetch_bytes", 50*1024*1024) // 50MB
	v.SetDefault("ingest_rate", 0)
	v.SetDefault("ingest_burst", 5)
	v.SetDefault("log_level", "info")
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("tilecrop", pflag.ContinueOnError)
	fs.String("port", "", "HTTP listen port")
	fs.String("root-dir", "", "directory that holds image directories")
	fs.Int("crop-concurrency", 0, "maximum tiles written at once per crop (0 = all)")
	fs.String("store", "", "metadata backend: sqlite or mongo")
	fs.String("database-path", "", "SQLite database file")
	fs.String("mongo-uri", "", "MongoDB connection string")
	fs.String("mongo-database", "", "MongoDB database name")
	fs.Duration("fetch-timeout", 0, "timeout for fetching a remote image")
	fs.Int64("max-fetch-bytes", 0, "maximum size of a fetched image")
	fs.Float64("ingest-rate", 0, "image loads per second allowed per client (0 = unlimited)")
	fs.Float64("ingest-burst", 0, "burst of image loads allowed per client")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Only flags given on the command line override env and defaults.
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("port"),
		},
		Storage: StorageConfig{
			RootDir:         v.GetString("root_dir"),
			CropConcurrency: v.GetInt("crop_concurrency"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(v.GetString("store")),
			DatabasePath:  v.GetString("database_path"),
			MongoURI:      v.GetString("mongo_uri"),
			MongoDatabase: v.GetString("mongo_database"),
		},
		Fetch: FetchConfig{
			Timeout:  v.GetDuration("fetch_timeout"),
			MaxBytes: v.GetInt64("max_fetch_bytes"),
		},
		Ingest: IngestConfig{
			Rate:  v.GetFloat64("ingest_rate"),
			Burst: v.GetFloat64("ingest_burst"),
		},
		Log: LogConfig{Level: level},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Storage.RootDir == "" {
		return fmt.Errorf("root directory is required")
	}
	if c.Storage.CropConcurrency < 0 {
		return fmt.Errorf("crop concurrency must not be negative")
	}
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.DatabasePath == "" {
			return fmt.Errorf("database path is required for the sqlite store")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return fmt.Errorf("mongo uri and database are required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store.Backend)
	}
	if c.Fetch.Timeout < 0 || c.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch timeout and size limit must not be negative")
	}
	if c.Ingest.Rate < 0 || (c.Ingest.Rate > 0 && c.Ingest.Burst < 1) {
		return fmt.Errorf("ingest rate must not be negative and burst must be at least 1")
	}
	return nil
}
