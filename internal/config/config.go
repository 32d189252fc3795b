// Package config loads pipeline settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Metadata backends
const (
	MetadataDynamoDB = "dynamodb"
	MetadataPostgres = "postgres"
	MetadataSQLite   = "sqlite"
	MetadataMemory   = "memory"
)

// Storage backends
const (
	StorageS3            = "s3"
	StorageFilesystem    = "filesystem"
	StorageSimpleContent = "simplecontent"
)

// Config holds every setting the commands read
type Config struct {
	MinConfidence float64
	Interval      time.Duration

	SaveBucket   string
	ResultPrefix string

	UtilTable   string
	PromptTable string
	AuditTable  string

	ModelName     string
	BedrockRegion string
	MaxTokens     int

	MetadataBackend string
	DatabaseURL     string

	StorageBackend string
	StorageDir     string
	InlineImages   bool

	PromptFile string
	ScratchDir string

	LogLevel  string
	LogPretty bool

	HTTPAddr        string
	DBOSDatabaseURL string
	DBOSQueueName   string
	DBOSConcurrency int
}

func defaults(v *viper.Viper) {
	v.SetDefault("MIN_CONFIDENCE", 75)
	v.SetDefault("INTERVAL_TIME", 0)
	v.SetDefault("RESULT_PREFIX", "images")
	v.SetDefault("UTIL_TABLE_NAME", "util")
	v.SetDefault("PROMPT_TABLE_NAME", "prompts")
	v.SetDefault("TABLE_NAME", "captions")
	v.SetDefault("BEDROCK_REGION", "us-west-2")
	v.SetDefault("MAX_TOKENS", 4000)
	v.SetDefault("METADATA_BACKEND", MetadataDynamoDB)
	v.SetDefault("STORAGE_BACKEND", StorageS3)
	v.SetDefault("STORAGE_DIR", "./dev-data")
	v.SetDefault("INLINE_IMAGES", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("WORKER_HTTP_ADDR", ":8081")
	v.SetDefault("DBOS_QUEUE_NAME", "hazard_assessment")
	v.SetDefault("DBOS_CONCURRENCY", 1)
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		MinConfidence:   v.GetFloat64("MIN_CONFIDENCE"),
		Interval:        time.Duration(v.GetFloat64("INTERVAL_TIME") * float64(time.Second)),
		SaveBucket:      v.GetString("SAVE_BUCKET_NAME"),
		ResultPrefix:    strings.Trim(v.GetString("RESULT_PREFIX"), "/"),
		UtilTable:       v.GetString("UTIL_TABLE_NAME"),
		PromptTable:     v.GetString("PROMPT_TABLE_NAME"),
		AuditTable:      v.GetString("TABLE_NAME"),
		ModelName:       v.GetString("BEDROCK_MODEL_NAME"),
		BedrockRegion:   v.GetString("BEDROCK_REGION"),
		MaxTokens:       v.GetInt("MAX_TOKENS"),
		MetadataBackend: strings.ToLower(v.GetString("METADATA_BACKEND")),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		StorageBackend:  strings.ToLower(v.GetString("STORAGE_BACKEND")),
		StorageDir:      v.GetString("STORAGE_DIR"),
		InlineImages:    v.GetBool("INLINE_IMAGES"),
		PromptFile:      v.GetString("PROMPT_FILE"),
		ScratchDir:      v.GetString("SCRATCH_DIR"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogPretty:       v.GetBool("LOG_PRETTY"),
		HTTPAddr:        v.GetString("WORKER_HTTP_ADDR"),
		DBOSDatabaseURL: v.GetString("DBOS_SYSTEM_DATABASE_URL"),
		DBOSQueueName:   v.GetString("DBOS_QUEUE_NAME"),
		DBOSConcurrency: v.GetInt("DBOS_CONCURRENCY"),
	}
	return cfg, nil
}

// Validate checks the settings a pipeline run needs
func (c *Config) Validate() error {
	var errs []error

	if c.SaveBucket == "" {
		errs = append(errs, fmt.Errorf("SAVE_BUCKET_NAME is required"))
	}
	if c.ModelName == "" {
		errs = append(errs, fmt.Errorf("BEDROCK_MODEL_NAME is required"))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("MIN_CONFIDENCE must be between 0 and 100, got %v", c.MinConfidence))
	}

	switch c.MetadataBackend {
	case MetadataDynamoDB, MetadataMemory:
	case MetadataPostgres, MetadataSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for METADATA_BACKEND=%s", c.MetadataBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown METADATA_BACKEND %q", c.MetadataBackend))
	}

	switch c.StorageBackend {
	case StorageS3, StorageFilesystem, StorageSimpleContent:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	return errors.Join(errs...)
}

// SQLDriver maps the metadata backend to a database/sql driver name
func (c *Config) SQLDriver() string {
	if c.MetadataBackend == MetadataSQLite {
		return "sqlite3"
	}
	return "postgres"
}
