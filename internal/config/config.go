// Package config loads the server configuration from, in increasing order
// of precedence, flag defaults, an optional YAML file, FLASHDECK_*
// environment variables and flags set on the command line.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read. Nested keys are
// separated by a double underscore: FLASHDECK_STORE__DIR sets store.dir.
const EnvPrefix = "FLASHDECK_"

// DefaultFile is read when present and no --config flag is given.
const DefaultFile = "flashdeck.yaml"

// Config holds every setting of the server.
type Config struct {
	Server  Server  `koanf:"server"`
	Sync    Sync    `koanf:"sync"`
	Store   Store   `koanf:"store"`
	History History `koanf:"history"`
	Journal Journal `koanf:"journal"`
	Log     Log     `koanf:"log"`
}

type Server struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

// Sync switches the sync and upsert endpoints. With sync disabled the
// server only hands out the offline page.
type Sync struct {
	Enabled bool `koanf:"enabled"`
}

type Store struct {
	Backend string `koanf:"backend" validate:"oneof=file s3"`
	Dir     string `koanf:"dir" validate:"required_if=Backend file"`
	S3      S3     `koanf:"s3"`
}

type S3 struct {
	Endpoint     string `koanf:"endpoint" validate:"omitempty,url"`
	Bucket       string `koanf:"bucket"`
	Region       string `koanf:"region"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	Prefix       string `koanf:"prefix"`
	UsePathStyle bool   `koanf:"use_path_style"`
}

// History versions the deck directory with git. Only the file backend
// supports it.
type History struct {
	Git         bool   `koanf:"git"`
	Remote      string `koanf:"remote"`
	AuthorName  string `koanf:"author_name" validate:"required_if=Git true"`
	AuthorEmail string `koanf:"author_email" validate:"required_if=Git true"`
}

// Journal is the SQLite sync journal. An empty path disables it.
type Journal struct {
	Path string `koanf:"path"`
}

type Log struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	Format     string `koanf:"format" validate:"oneof=text json"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
}

// RegisterFlags adds the configuration flags to fs. Flag names are the
// dotted configuration keys and their defaults are the defaults of the server.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultFile, "Path to the YAML configuration file")

	fs.String("server.addr", ":8080", "Address to listen on")
	fs.Duration("server.read_timeout", 10*time.Second, "Maximum duration for reading a request")
	fs.Duration("server.write_timeout", 10*time.Second, "Maximum duration for writing a response")
	fs.Duration("server.shutdown_timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")
	fs.Int64("server.max_body_bytes", 8<<20, "Maximum size of a sync request body")

	fs.Bool("sync.enabled", true, "Serve the sync and update endpoints")

	fs.String("store.backend", "file", "Deck storage backend: file or s3")
	fs.String("store.dir", "decks", "Directory holding the decks (file backend)")
	fs.String("store.s3.endpoint", "", "S3-compatible endpoint URL, empty for AWS")
	fs.String("store.s3.bucket", "", "Bucket holding the decks (s3 backend)")
	fs.String("store.s3.region", "us-east-1", "Bucket region")
	fs.String("store.s3.access_key", "", "Static access key")
	fs.String("store.s3.secret_key", "", "Static secret key")
	fs.String("store.s3.prefix", "", "Key prefix of the decks in the bucket")
	fs.Bool("store.s3.use_path_style", false, "Use path-style bucket addressing")

	fs.Bool("history.git", false, "Commit every saved deck to a git repository in the deck directory")
	fs.String("history.remote", "", "Git URL to clone the deck directory from, or pull on startup")
	fs.String("history.author_name", "flashdeck", "Author name of history commits")
	fs.String("history.author_email", "flashdeck@localhost", "Author email of history commits")

	fs.String("journal.path", "flashdeck.db", "Path to the SQLite sync journal, empty to disable")

	fs.String("log.level", "info", "Log level: debug, info, warn or error")
	fs.String("log.format", "text", "Log format: text or json")
	fs.String("log.file", "", "Write logs to this file, rotated, instead of stderr")
	fs.Int("log.max_size_mb", 10, "Rotate the log file after this many megabytes")
	fs.Int("log.max_backups", 3, "Number of rotated log files to keep")
	fs.Int("log.max_age_days", 28, "Days to keep rotated log files")
}

// Load builds the configuration from a parsed flag set that went through
// RegisterFlags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if fs.Changed("config") || !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, statErr)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Flags set on the command line override everything; unset flags only
	// fill the keys nothing else provided.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Backend == "s3" {
		if c.Store.S3.Bucket == "" {
			return errors.New("invalid config: store.s3.bucket is required for the s3 backend")
		}
		if c.History.Git || c.History.Remote != "" {
			return errors.New("invalid config: git history needs the file backend")
		}
	}
	return nil
}
