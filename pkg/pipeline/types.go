package pipeline

import "time"

// ProcessRequest represents a request to assess a newly stored image
type ProcessRequest struct {
	Bucket     string            `json:"bucket"`
	Key        string            `json:"key"`
	ReceivedAt time.Time         `json:"received_at"`
	Job        string            `json:"job"` // hazard_assessment
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID   string                 `json:"run_id"`
	Skipped bool                   `json:"skipped"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
}

// UploadResponse reports where an uploaded source image was stored. Key is
// the value to pass back in a ProcessRequest.
type UploadResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
}

// JobType constants
const (
	JobHazardAssessment = "hazard_assessment"
)

// Output keys reported by the hazard workflow
const (
	OutputSkipped        = "skipped"
	OutputCaption        = "caption"
	OutputClassification = "classification"
	OutputRiskLevel      = "risk_level"
	OutputResultLocation = "result_location"
	OutputBoxesDrawn     = "boxes_drawn"
)
