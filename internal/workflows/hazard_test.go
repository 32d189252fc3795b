package workflows

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-hazard-pipeline/internal/caption"
	"github.com/tendant/simple-hazard-pipeline/internal/debounce"
	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/metrics"
	"github.com/tendant/simple-hazard-pipeline/internal/persist"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

type fakeDetector struct {
	calls int
	err   error
}

func (f *fakeDetector) DetectLabels(ctx context.Context, ref detection.ImageRef) (*detection.LabelsResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &detection.LabelsResponse{Labels: []detection.Label{
		{Name: "Construction", Confidence: 97},
		{Name: "Person", Confidence: 95, Instances: []detection.Instance{
			{BoundingBox: detection.BoundingBox{Left: 0.25, Top: 0.25, Width: 0.5, Height: 0.5}, Confidence: 90},
			{BoundingBox: detection.BoundingBox{Left: 0.05, Top: 0.6, Width: 0.1, Height: 0.2}, Confidence: 60},
		}},
	}}, nil
}

func (f *fakeDetector) DetectProtectiveEquipment(ctx context.Context, ref detection.ImageRef) (*detection.PPEResponse, error) {
	f.calls++
	return &detection.PPEResponse{
		ResponseDate: "Mon, 01 Jan 2024 09:00:00 GMT",
		Persons: []detection.Person{
			{ID: 0, BoundingBox: detection.BoundingBox{Left: 0.6}},
			{ID: 1, BoundingBox: detection.BoundingBox{Left: 0.1}},
		},
	}, nil
}

type fakeInvoker struct {
	reply string
	calls int
	got   caption.Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, req caption.Request) (string, error) {
	f.calls++
	f.got = req
	return f.reply, nil
}

type countingImages struct {
	*storage.FilesystemStorage
	downloads int
	uploads   int
}

func (c *countingImages) Download(ctx context.Context, loc storage.Location) ([]byte, error) {
	c.downloads++
	return c.FilesystemStorage.Download(ctx, loc)
}

func (c *countingImages) Upload(ctx context.Context, loc storage.Location, r io.Reader, contentType string) error {
	c.uploads++
	return c.FilesystemStorage.Upload(ctx, loc, r, contentType)
}

type harness struct {
	store    *metadata.MemoryStore
	images   *countingImages
	detector *fakeDetector
	invoker  *fakeInvoker
	metrics  *metrics.Metrics
	workflow *HazardWorkflow
	now      time.Time
}

func newHarness(t *testing.T, interval time.Duration, reply string) *harness {
	t.Helper()

	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)

	var png bytes.Buffer
	require.NoError(t, imaging.Encode(&png, imaging.New(200, 200, color.White), imaging.PNG))
	require.NoError(t, fs.Upload(context.Background(), storage.Location{Bucket: "cams", Key: "gate/frame.png"}, &png, "image/png"))

	h := &harness{
		store:    metadata.NewMemoryStore(),
		images:   &countingImages{FilesystemStorage: fs},
		detector: &fakeDetector{},
		invoker:  &fakeInvoker{reply: reply},
		metrics:  metrics.New(nil),
		now:      time.Unix(1700000000, 0),
	}

	log := zerolog.Nop()
	h.workflow = NewHazardWorkflow(HazardDeps{
		Gate:     debounce.NewDebouncer(h.store, interval, log),
		Images:   h.images,
		Detector: h.detector,
		Prompts:  prompt.NewCatalog(h.store, "", log),
		Assessor: caption.NewCaptioner(h.invoker, 0, log),
		Results: persist.NewPersister(h.images, h.store, persist.Config{
			DestBucket: "results",
			ScratchDir: t.TempDir(),
			ModelName:  "anthropic.claude-3-sonnet",
		}, log),
		Metrics: h.metrics,
		Log:     log,
		Now:     func() time.Time { return h.now },
	}, HazardOptions{MinConfidence: 75})

	return h
}

func (h *harness) run(t *testing.T) (*WorkflowResult, error) {
	t.Helper()
	runner := NewWorkflowRunner(nil)
	runner.Register(pipeline.JobHazardAssessment, h.workflow)
	return runner.Run(&WorkflowContext{
		Ctx:     context.Background(),
		RunID:   "run-1",
		Request: pipeline.ProcessRequest{Bucket: "cams", Key: "gate/frame.png", Job: pipeline.JobHazardAssessment},
	})
}

func TestHazardWorkflow_Completes(t *testing.T) {
	h := newHarness(t, 10*time.Second, `"image_caption": "<b>Two workers</b> near the gate.", "classification": 1, "risk_level": 6}`)

	result, err := h.run(t)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, "Two workers near the gate.", result.Outputs[pipeline.OutputCaption])
	assert.Equal(t, 1, result.Outputs[pipeline.OutputClassification])
	assert.Equal(t, 6, result.Outputs[pipeline.OutputRiskLevel])
	assert.Equal(t, 1, result.Outputs[pipeline.OutputBoxesDrawn])
	assert.Equal(t, "s3://results/images/frame.png", result.Outputs[pipeline.OutputResultLocation])

	rec, err := h.store.GetAudit(context.Background(), metadata.LatestAuditID)
	require.NoError(t, err)
	assert.Equal(t, "Two workers near the gate.", rec.Caption)
	assert.Equal(t, "1", rec.Classification)
	assert.Equal(t, "6", rec.RiskLevel)
	assert.Equal(t, "s3://cams/gate/frame.png", rec.SourceLocation)
	assert.Equal(t, "anthropic.claude-3-sonnet", rec.ModelName)
	assert.Contains(t, rec.RawLabels, `"Instances"`)

	// prompt pointer initialized, persons ordered left to right in the prompt
	active, err := h.store.GetActivePromptID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metadata.DefaultPrompt, active)
	assert.Contains(t, h.invoker.got.Prompt, `"Number of Persons":2`)
	assert.Contains(t, h.invoker.got.Prompt, `"WorkerID":0,"Position":{"Width":0,"Height":0,"Left":0.1`)
	assert.Equal(t, "image/png", h.invoker.got.MediaType)

	exists, err := h.images.Exists(context.Background(), storage.Location{Bucket: "results", Key: "images/frame.png"})
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Invocations.WithLabelValues(metrics.OutcomeCompleted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.BoxesDrawn))
}

func TestHazardWorkflow_UnparseableModelOutput(t *testing.T) {
	h := newHarness(t, 0, "not json")

	result, err := h.run(t)
	require.NoError(t, err)
	require.True(t, result.Success)

	rec, err := h.store.GetAudit(context.Background(), metadata.LatestAuditID)
	require.NoError(t, err)
	assert.Equal(t, "No description", rec.Caption)
	assert.Equal(t, "0", rec.Classification)
	assert.Equal(t, "0", rec.RiskLevel)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CaptionFallbacks.WithLabelValues(string(caption.OutcomeMalformed))))
}

func TestHazardWorkflow_ThrottledMakesNoCalls(t *testing.T) {
	h := newHarness(t, 10*time.Second, "{}")
	require.NoError(t, h.store.PutRateLimit(context.Background(), h.now.Add(-3*time.Second), nil))

	result, err := h.run(t)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Outputs[pipeline.OutputSkipped])

	assert.Zero(t, h.images.downloads)
	assert.Zero(t, h.images.uploads)
	assert.Zero(t, h.detector.calls)
	assert.Zero(t, h.invoker.calls)

	_, err = h.store.GetAudit(context.Background(), metadata.LatestAuditID)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Invocations.WithLabelValues(metrics.OutcomeThrottled)))
}

func TestHazardWorkflow_DetectorFailurePropagates(t *testing.T) {
	h := newHarness(t, 0, "{}")
	boom := errors.New("rekognition unavailable")
	h.detector.err = boom

	result, err := h.run(t)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "detect_labels")
	assert.Zero(t, h.invoker.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Invocations.WithLabelValues(metrics.OutcomeFailed)))
}

func TestHazardWorkflow_InvalidRequest(t *testing.T) {
	h := newHarness(t, 0, "{}")

	result, err := h.workflow.Execute(&WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Bucket: "cams"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, result.Success)
	assert.Zero(t, h.images.downloads)
}

func TestWorkflowRunner_UnknownJob(t *testing.T) {
	runner := NewWorkflowRunner(nil)

	result, err := runner.Run(&WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Job: "thumbnail"}})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.False(t, result.Success)

	_, err = runner.RunAsync(context.Background(), pipeline.ProcessRequest{Job: pipeline.JobHazardAssessment})
	assert.Error(t, err)

	_, err = runner.GetStatus(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestStateFromDBOS(t *testing.T) {
	assert.Equal(t, "pending", stateFromDBOS("ENQUEUED"))
	assert.Equal(t, "running", stateFromDBOS("PENDING"))
	assert.Equal(t, "succeeded", stateFromDBOS("SUCCESS"))
	assert.Equal(t, "failed", stateFromDBOS("ERROR"))
}
