package dbosruntime

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Defaults for the hazard worker's durable queue. Every assessment contends
// for the same debounce window, so queued runs go one at a time unless told
// otherwise.
const (
	DefaultAppName         = "hazard-worker"
	DefaultQueueName       = "hazard_assessment"
	DefaultConcurrency     = 1
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds DBOS runtime configuration
type Config struct {
	// DatabaseURL is the PostgreSQL connection string for DBOS state storage.
	// Required.
	DatabaseURL string

	// AppName identifies the worker in DBOS
	AppName string

	// QueueName is the queue assessments are enqueued on
	QueueName string

	// Concurrency is the number of assessments the queue runs at once
	Concurrency int

	// ApplicationVersion overrides the default binary hash for version matching,
	// so a redeployed worker recovers runs enqueued by the previous build
	ApplicationVersion string

	// ShutdownTimeout bounds how long in-flight assessments may finish
	ShutdownTimeout time.Duration
}

// WithDefaults fills in default values for optional fields
func (c *Config) WithDefaults() {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the fields WithDefaults cannot fill
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("DBOS_CONCURRENCY must not be negative, got %d", c.Concurrency)
	}
	return nil
}

// RunID builds the durable id of one queued assessment from its job, the
// image's base name and the enqueue time
func RunID(job, key string, at time.Time) string {
	return fmt.Sprintf("%s%s-%d", RunPrefix(job), path.Base(key), at.UnixNano())
}

// RunPrefix is the id prefix shared by every run of job
func RunPrefix(job string) string {
	return job + "-"
}

// likePattern escapes prefix for a LIKE ... ESCAPE '\' match
func likePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
