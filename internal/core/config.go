package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jo-hoe/testimonials/internal/backend/database"
	"github.com/jo-hoe/testimonials/internal/backend/upload"
	"github.com/jo-hoe/testimonials/internal/notification"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort             = 8080
	defaultLogLevel         = "info"
	defaultBodyLimit        = "8M"
	defaultDatabaseType     = "sqlite"
	defaultConnectionString = "testimonials.db"
	defaultTable            = "testimonials"
	defaultSMTPPort         = 587
)

type Database struct {
	Type              string            `yaml:"type"`
	ConnectionString  string            `yaml:"connectionString"`
	Table             string            `yaml:"table"`
	AdditionalColumns []database.Column `yaml:"additionalColumns"`
}

// Images configures upload checks and storage. MinWidth and MinHeight
// default to 200x150; an explicit 0 turns the check off for that side.
type Images struct {
	StorageRoot       string   `yaml:"storageRoot"`
	ImageFolder       string   `yaml:"imageFolder"`
	ThumbnailFolder   string   `yaml:"thumbnailFolder"`
	Thumbnails        bool     `yaml:"thumbnails"`
	ThumbnailWidth    int      `yaml:"thumbnailWidth"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	MaxFileSize       int64    `yaml:"maxFileSize"`
	MinWidth          *int     `yaml:"minWidth"`
	MinHeight         *int     `yaml:"minHeight"`
	TimestampPrefix   bool     `yaml:"timestampPrefix"`
}

type Testimonials struct {
	AutoApprove bool `yaml:"autoApprove"`
	// RandomSeed makes random ordering reproducible. Unset means a new
	// sequence every run.
	RandomSeed *int64 `yaml:"randomSeed"`
}

type Outbox struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Key           string `yaml:"key"`
}

type Notification struct {
	Enabled         bool                    `yaml:"enabled"`
	Recipient       notification.Contact    `yaml:"recipient"`
	From            notification.Contact    `yaml:"from"`
	AttachImage     bool                    `yaml:"attachImage"`
	SubjectTemplate string                  `yaml:"subjectTemplate"`
	PlainTemplate   string                  `yaml:"plainTemplate"`
	HTMLTemplate    string                  `yaml:"htmlTemplate"`
	SMTP            notification.SMTPConfig `yaml:"smtp"`
	Outbox          Outbox                  `yaml:"outbox"`
}

type ServiceConfig struct {
	Port         int          `yaml:"port"`
	LogLevel     string       `yaml:"logLevel"`
	BodyLimit    string       `yaml:"bodyLimit"`
	Database     Database     `yaml:"database"`
	Images       Images       `yaml:"images"`
	Testimonials Testimonials `yaml:"testimonials"`
	Notification Notification `yaml:"notification"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()
	config.applyEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

// LoadEnvFiles loads secrets from .env files into the environment. Missing
// files are skipped; variables already set are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		slog.Debug("loaded env file", "path", path)
	}
	return nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.BodyLimit == "" {
		c.BodyLimit = defaultBodyLimit
	}

	if c.Database.Type == "" {
		c.Database.Type = defaultDatabaseType
	}
	if c.Database.ConnectionString == "" && c.Database.Type == defaultDatabaseType {
		c.Database.ConnectionString = defaultConnectionString
	}
	if c.Database.Table == "" {
		c.Database.Table = defaultTable
	}

	defaults := upload.DefaultConfig()
	if c.Images.StorageRoot == "" {
		c.Images.StorageRoot = defaults.StorageRoot
	}
	if c.Images.ImageFolder == "" {
		c.Images.ImageFolder = defaults.ImageFolder
	}
	if c.Images.ThumbnailFolder == "" {
		c.Images.ThumbnailFolder = defaults.ThumbnailFolder
	}
	if c.Images.ThumbnailWidth == 0 {
		c.Images.ThumbnailWidth = defaults.ThumbnailWidth
	}
	if len(c.Images.AllowedExtensions) == 0 {
		c.Images.AllowedExtensions = defaults.AllowedExtensions
	}
	if c.Images.MaxFileSize == 0 {
		c.Images.MaxFileSize = defaults.MaxFileSize
	}
	if c.Images.MinWidth == nil {
		c.Images.MinWidth = &defaults.MinWidth
	}
	if c.Images.MinHeight == nil {
		c.Images.MinHeight = &defaults.MinHeight
	}

	if c.Notification.SMTP.Port == 0 {
		c.Notification.SMTP.Port = defaultSMTPPort
	}
	if c.Notification.Outbox.Key == "" {
		c.Notification.Outbox.Key = notification.DefaultOutboxKey
	}
}

// applyEnvironment lets secrets stay out of the YAML file.
func (c *ServiceConfig) applyEnvironment() {
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Notification.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Notification.SMTP.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Notification.Outbox.RedisPassword = v
	}
}

func (c *ServiceConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("database connection string must not be empty")
	}
	if _, err := c.Schema(); err != nil {
		return err
	}

	if _, err := upload.NewPipeline(c.PipelineConfig()); err != nil {
		return fmt.Errorf("invalid image configuration: %w", err)
	}

	if c.Notification.Enabled {
		n := c.Notification
		if n.Recipient.Email == "" {
			return fmt.Errorf("notification recipient email must be set when notifications are enabled")
		}
		if n.From.Email == "" {
			return fmt.Errorf("notification sender email must be set when notifications are enabled")
		}
		if n.SMTP.Host == "" {
			return fmt.Errorf("smtp host must be set when notifications are enabled")
		}
		if n.Outbox.Enabled && n.Outbox.RedisAddr == "" {
			return fmt.Errorf("redis address must be set when the notification outbox is enabled")
		}
	}

	return nil
}

func (c *ServiceConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *ServiceConfig) Schema() (database.Schema, error) {
	return database.NewTestimonialSchema(c.Database.Table, c.Database.AdditionalColumns)
}

func (c *ServiceConfig) PipelineConfig() upload.Config {
	defaults := upload.DefaultConfig()
	return upload.Config{
		StorageRoot:       c.Images.StorageRoot,
		ImageFolder:       c.Images.ImageFolder,
		ThumbnailFolder:   c.Images.ThumbnailFolder,
		ThumbnailEnabled:  c.Images.Thumbnails,
		ThumbnailWidth:    c.Images.ThumbnailWidth,
		AllowedExtensions: c.Images.AllowedExtensions,
		MaxFileSize:       c.Images.MaxFileSize,
		MinWidth:          valueOr(c.Images.MinWidth, defaults.MinWidth),
		MinHeight:         valueOr(c.Images.MinHeight, defaults.MinHeight),
		TimestampPrefix:   c.Images.TimestampPrefix,
	}
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
