package workflows

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/annotate"
	"github.com/tendant/simple-hazard-pipeline/internal/caption"
	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/metrics"
	"github.com/tendant/simple-hazard-pipeline/internal/persist"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// Gate decides whether a run may proceed
type Gate interface {
	ShouldProcess(ctx context.Context, now time.Time) (bool, error)
}

// PromptResolver resolves the active prompt template
type PromptResolver interface {
	ResolveActivePromptID(ctx context.Context) (string, error)
	ResolveTemplate(ctx context.Context, id string) (prompt.Template, error)
}

// Assessor produces the caption assessment
type Assessor interface {
	Caption(ctx context.Context, tmpl prompt.Template, labels []detection.LabelSummary, ppe detection.PPESummary, image []byte) (caption.Result, error)
}

// ResultWriter stores the annotated image and audit record
type ResultWriter interface {
	Persist(ctx context.Context, a persist.Artifacts) (*metadata.AuditRecord, error)
}

// HazardDeps are the collaborators of HazardWorkflow
type HazardDeps struct {
	Gate     Gate
	Images   storage.ImageStore
	Detector detection.Detector
	Prompts  PromptResolver
	Assessor Assessor
	Results  ResultWriter
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

// HazardOptions tune a HazardWorkflow
type HazardOptions struct {
	MinConfidence float64
	// InlineImages sends image bytes to the detector instead of a storage reference
	InlineImages bool
}

// HazardWorkflow assesses a newly stored image for hazards
type HazardWorkflow struct {
	deps HazardDeps
	opts HazardOptions
}

// NewHazardWorkflow creates a new hazard assessment workflow
func NewHazardWorkflow(deps HazardDeps, opts HazardOptions) *HazardWorkflow {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &HazardWorkflow{deps: deps, opts: opts}
}

// Name returns the workflow name
func (w *HazardWorkflow) Name() string {
	return "HazardWorkflow"
}

// Execute runs the hazard assessment workflow
func (w *HazardWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx := wctx.Ctx
	req := wctx.Request
	log := w.deps.Log.With().
		Str("run_id", wctx.RunID).
		Str("bucket", req.Bucket).
		Str("key", req.Key).
		Logger()
	m := w.deps.Metrics

	result, err := w.execute(ctx, req, log)
	switch {
	case err != nil:
		m.Invocations.WithLabelValues(metrics.OutcomeFailed).Inc()
	case result.Outputs[pipeline.OutputSkipped] == true:
		m.Invocations.WithLabelValues(metrics.OutcomeThrottled).Inc()
	default:
		m.Invocations.WithLabelValues(metrics.OutcomeCompleted).Inc()
	}
	return result, err
}

func (w *HazardWorkflow) execute(ctx context.Context, req pipeline.ProcessRequest, log zerolog.Logger) (*WorkflowResult, error) {
	m := w.deps.Metrics
	log.Info().Msg("Starting hazard workflow")

	// Step 1: Validate request
	if req.Bucket == "" || req.Key == "" {
		err := fmt.Errorf("%w: bucket and key are required", ErrInvalidRequest)
		log.Error().Err(err).Msg("Validation failed")
		return failed(err), err
	}
	src := storage.Location{Bucket: req.Bucket, Key: req.Key}

	// Step 2: Debounce
	start := time.Now()
	proceed, err := w.deps.Gate.ShouldProcess(ctx, w.deps.Now())
	m.ObserveStage("debounce", start)
	if err != nil {
		return w.stepFailed(log, "debounce", err)
	}
	if !proceed {
		log.Info().Msg("Throttled, skipping")
		return &WorkflowResult{
			Success: true,
			Outputs: map[string]interface{}{
				pipeline.OutputSkipped: true,
			},
		}, nil
	}

	// Step 3: Download source image
	start = time.Now()
	data, err := w.deps.Images.Download(ctx, src)
	m.ObserveStage("download", start)
	if err != nil {
		return w.stepFailed(log, "download", err)
	}
	log.Debug().Int("bytes", len(data)).Msg("Source image downloaded")

	// Step 4: Detect labels and protective equipment
	ref := detection.ImageRef{Location: src}
	if w.opts.InlineImages {
		ref.Data = data
	}
	start = time.Now()
	labels, err := w.deps.Detector.DetectLabels(ctx, ref)
	if err != nil {
		return w.stepFailed(log, "detect_labels", err)
	}
	ppe, err := w.deps.Detector.DetectProtectiveEquipment(ctx, ref)
	m.ObserveStage("detect", start)
	if err != nil {
		return w.stepFailed(log, "detect_ppe", err)
	}

	// Step 5: Normalize detections
	labelSummary := detection.FilterLabels(labels)
	ppeSummary := detection.FilterPPE(ppe)
	log.Info().
		Int("labels", len(labelSummary)).
		Int("persons", ppeSummary.PersonCount).
		Msg("Detections normalized")

	// Step 6: Resolve prompt
	start = time.Now()
	promptID, err := w.deps.Prompts.ResolveActivePromptID(ctx)
	if err != nil {
		return w.stepFailed(log, "prompt_id", err)
	}
	tmpl, err := w.deps.Prompts.ResolveTemplate(ctx, promptID)
	m.ObserveStage("prompt", start)
	if err != nil {
		return w.stepFailed(log, "prompt", err)
	}

	// Step 7: Caption
	start = time.Now()
	assessment, err := w.deps.Assessor.Caption(ctx, tmpl, labelSummary, ppeSummary, data)
	m.ObserveStage("caption", start)
	if err != nil {
		return w.stepFailed(log, "caption", err)
	}
	if assessment.IsFallback() {
		m.CaptionFallbacks.WithLabelValues(string(assessment.Outcome)).Inc()
	}
	log.Info().
		Str("prompt_id", promptID).
		Int("classification", assessment.Classification).
		Int("risk_level", assessment.RiskLevel).
		Msg("Assessment complete")

	// Step 8: Annotate
	start = time.Now()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return w.stepFailed(log, "decode", err)
	}
	annotated, boxes := annotate.Annotate(img, labels, w.opts.MinConfidence)
	m.ObserveStage("annotate", start)
	m.BoxesDrawn.Add(float64(boxes))

	// Step 9: Persist
	start = time.Now()
	rec, err := w.deps.Results.Persist(ctx, persist.Artifacts{
		Source:    src,
		Annotated: annotated,
		Labels:    labels,
		PPE:       ppe,
		Caption:   assessment,
		At:        w.deps.Now(),
	})
	m.ObserveStage("persist", start)
	if err != nil {
		return w.stepFailed(log, "persist", err)
	}

	log.Info().Str("result", rec.ResultLocation).Int("boxes", boxes).Msg("Hazard workflow completed successfully")

	return &WorkflowResult{
		Success: true,
		Outputs: map[string]interface{}{
			pipeline.OutputCaption:        assessment.Caption,
			pipeline.OutputClassification: assessment.Classification,
			pipeline.OutputRiskLevel:      assessment.RiskLevel,
			pipeline.OutputResultLocation: rec.ResultLocation,
			pipeline.OutputBoxesDrawn:     boxes,
		},
	}, nil
}

func (w *HazardWorkflow) stepFailed(log zerolog.Logger, step string, err error) (*WorkflowResult, error) {
	log.Error().Err(err).Str("step", step).Msg("Step failed")
	wrapped := fmt.Errorf("%w: %s: %w", ErrStepFailed, step, err)
	return failed(wrapped), wrapped
}
