// Package metadata holds the key-value records shared between invocations:
// the debounce timestamp, the prompt catalog and the latest audit record.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when a record (or a required attribute) is absent
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed is returned when a conditional write loses to a concurrent writer
	ErrConditionFailed = errors.New("conditional write failed")

	// ErrMalformed is returned alongside a partial record when a stored value
	// cannot be decoded. The partial record carries the raw revision.
	ErrMalformed = errors.New("malformed record")
)

// Fixed record keys
const (
	RateLimitID    = "1"
	ActivePromptID = "prompt_id"
	LatestAuditID  = "1"
	DefaultPrompt  = "default"
)

// RateLimitState is the singleton debounce record.
// Revision is the stored representation, used as the compare value for
// conditional writes. Malformed marks a record whose timestamp could not be
// decoded; LastInvokedAt is zero in that case.
type RateLimitState struct {
	LastInvokedAt time.Time
	Revision      string
	Malformed     bool
}

func malformedRateLimit(revision string, cause error) (*RateLimitState, error) {
	return &RateLimitState{Revision: revision, Malformed: true},
		fmt.Errorf("%w: rate limit %q: %v", ErrMalformed, revision, cause)
}

// AuditRecord is the single persisted summary of the most recent run
type AuditRecord struct {
	ID             string `json:"id" dynamodbav:"id"`
	Timestamp      string `json:"timestamp" dynamodbav:"timestamp"`
	Caption        string `json:"caption" dynamodbav:"caption"`
	ModelName      string `json:"image_caption_model" dynamodbav:"image_caption_model"`
	RawLabels      string `json:"rekognition_labels" dynamodbav:"rekognition_labels"`
	RawPPE         string `json:"rekognition_ppe" dynamodbav:"rekognition_ppe"`
	SourceLocation string `json:"s3_location" dynamodbav:"s3_location"`
	ResultLocation string `json:"front_s3_location" dynamodbav:"front_s3_location"`
	Classification string `json:"classification" dynamodbav:"classification"`
	RiskLevel      string `json:"risk_level" dynamodbav:"risk_level"`
}

// RateLimitStore persists the debounce timestamp
type RateLimitStore interface {
	// GetRateLimit returns ErrNotFound before the first write. A record that
	// exists but cannot be decoded is returned with Malformed set, together
	// with ErrMalformed.
	GetRateLimit(ctx context.Context) (*RateLimitState, error)

	// PutRateLimit writes at. When prev is nil the write succeeds only if no
	// record exists; otherwise only if the stored revision still equals
	// prev.Revision. A malformed prev whose raw value cannot be compared is
	// overwritten. A lost race returns ErrConditionFailed.
	PutRateLimit(ctx context.Context, at time.Time, prev *RateLimitState) error
}

// PromptStore persists prompt templates and the active prompt pointer
type PromptStore interface {
	GetActivePromptID(ctx context.Context) (string, error)
	PutActivePromptID(ctx context.Context, id string) error
	GetPrompt(ctx context.Context, id string) (string, error)
	PutPrompt(ctx context.Context, id, text string) error
}

// AuditStore persists the latest audit record
type AuditStore interface {
	PutAudit(ctx context.Context, rec AuditRecord) error
	GetAudit(ctx context.Context, id string) (*AuditRecord, error)
}

// Store combines every record family
type Store interface {
	RateLimitStore
	PromptStore
	AuditStore
}

// FormatTimestamp renders t as fractional Unix seconds, the format the
// records have always carried.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseTimestamp parses fractional Unix seconds
func ParseTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)), nil
}
