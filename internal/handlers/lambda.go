package handlers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/workflows"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// LambdaResponse is returned for throttled and completed runs alike
type LambdaResponse struct {
	StatusCode int            `json:"statusCode"`
	Body       events.S3Event `json:"body"`
}

// LambdaHandler runs the hazard workflow for an object-created notification
type LambdaHandler struct {
	workflowRunner *workflows.WorkflowRunner
	log            zerolog.Logger
}

// NewLambdaHandler creates a new Lambda handler
func NewLambdaHandler(runner *workflows.WorkflowRunner, log zerolog.Logger) *LambdaHandler {
	return &LambdaHandler{workflowRunner: runner, log: log}
}

// RequestFromS3Event builds a process request from the first record of the
// event. Object keys arrive URL-encoded.
func RequestFromS3Event(event events.S3Event) (pipeline.ProcessRequest, error) {
	if len(event.Records) == 0 {
		return pipeline.ProcessRequest{}, fmt.Errorf("%w: event has no records", workflows.ErrInvalidRequest)
	}

	record := event.Records[0]
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return pipeline.ProcessRequest{}, fmt.Errorf("%w: bad object key %q: %v", workflows.ErrInvalidRequest, record.S3.Object.Key, err)
	}

	return pipeline.ProcessRequest{
		Bucket:     record.S3.Bucket.Name,
		Key:        key,
		ReceivedAt: record.EventTime,
		Job:        pipeline.JobHazardAssessment,
	}, nil
}

// Handle is the Lambda entry point
func (h *LambdaHandler) Handle(ctx context.Context, event events.S3Event) (LambdaResponse, error) {
	req, err := RequestFromS3Event(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Rejected event")
		return LambdaResponse{}, err
	}

	runID := uuid.New().String()
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		runID = lc.AwsRequestID
	}
	if len(event.Records) > 1 {
		h.log.Warn().Int("records", len(event.Records)).Msg("Only the first record is processed")
	}

	result, err := h.workflowRunner.Run(&workflows.WorkflowContext{
		Ctx:     ctx,
		Request: req,
		RunID:   runID,
	})
	if err != nil {
		return LambdaResponse{}, err
	}
	if !result.Success {
		return LambdaResponse{}, fmt.Errorf("workflow failed: %s", result.Error)
	}

	return LambdaResponse{StatusCode: 200, Body: event}, nil
}
