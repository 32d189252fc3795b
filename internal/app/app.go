// Package app wires configuration into a ready-to-run hazard workflow.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/simple-hazard-pipeline/internal/caption"
	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-hazard-pipeline/internal/debounce"
	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/metrics"
	"github.com/tendant/simple-hazard-pipeline/internal/persist"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/internal/workflows"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// App holds the long-lived collaborators of a process
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Store    metadata.Store
	Images   storage.ImageStore
	Metrics  *metrics.Metrics
	Workflow *workflows.HazardWorkflow

	closers []func()
}

// LoadAWS loads the shared AWS configuration
func LoadAWS(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// OpenStore opens the configured metadata backend. The returned close
// function is never nil.
func OpenStore(cfg *config.Config, awsCfg aws.Config) (metadata.Store, func(), error) {
	switch cfg.MetadataBackend {
	case config.MetadataDynamoDB:
		store := metadata.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), metadata.DynamoTables{
			Util:   cfg.UtilTable,
			Prompt: cfg.PromptTable,
			Audit:  cfg.AuditTable,
		})
		return store, func() {}, nil
	case config.MetadataPostgres, config.MetadataSQLite:
		store, err := metadata.OpenSQLStore(cfg.SQLDriver(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.MetadataMemory:
		return metadata.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
	}
}

// OpenImages opens the configured image storage backend
func OpenImages(cfg *config.Config, awsCfg aws.Config) (storage.ImageStore, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return storage.NewS3Store(s3.NewFromConfig(awsCfg)), func() {}, nil
	case config.StorageFilesystem:
		fs, err := storage.NewFilesystemStorage(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case config.StorageSimpleContent:
		// in-memory repository + filesystem blobs
		svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize simple-content service: %w", err)
		}
		return storage.NewContentStore(svc, uuid.New(), uuid.New()), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// DefaultPromptText returns the template text used when no prompt is stored,
// read from PROMPT_FILE when set
func DefaultPromptText(cfg *config.Config) (string, error) {
	if cfg.PromptFile == "" {
		return prompt.BuiltinDefault(), nil
	}
	f, err := prompt.LoadFile(cfg.PromptFile)
	if err != nil {
		return "", err
	}
	if f.Default == "" {
		return prompt.BuiltinDefault(), nil
	}
	return f.Default, nil
}

// New builds every collaborator of the hazard workflow. reg may be nil.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	awsCfg, err := LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Metrics: metrics.New(reg)}

	store, closeStore, err := OpenStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	images, closeImages, err := OpenImages(cfg, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Images = images
	a.closers = append(a.closers, closeImages)

	defaultText, err := DefaultPromptText(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	scratch := cfg.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	// Inference runs in its own region
	bedrock := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BedrockRegion != "" {
			o.Region = cfg.BedrockRegion
		}
	})

	gate := debounce.NewDebouncer(store, cfg.Interval, log)
	invoker := caption.NewBedrockInvoker(bedrock, cfg.ModelName)

	a.Workflow = workflows.NewHazardWorkflow(workflows.HazardDeps{
		Gate:     gate,
		Images:   images,
		Detector: detection.NewRekognitionDetector(rekognition.NewFromConfig(awsCfg)),
		Prompts:  prompt.NewCatalog(store, defaultText, log),
		Assessor: caption.NewCaptioner(invoker, cfg.MaxTokens, log),
		Results: persist.NewPersister(images, store, persist.Config{
			DestBucket: cfg.SaveBucket,
			Prefix:     cfg.ResultPrefix,
			ScratchDir: scratch,
			// Audit records name the model that actually wrote the caption
			ModelName: invoker.ModelID(),
		}, log),
		Metrics: a.Metrics,
		Log:     log,
	}, workflows.HazardOptions{
		MinConfidence: cfg.MinConfidence,
		InlineImages:  cfg.InlineImages || cfg.StorageBackend != config.StorageS3,
	})

	log.Info().
		Str("metadata", cfg.MetadataBackend).
		Str("storage", cfg.StorageBackend).
		Str("model", invoker.ModelID()).
		Dur("interval", gate.Interval()).
		Bool("debounce", gate.Interval() > 0).
		Float64("min_confidence", cfg.MinConfidence).
		Msg("Pipeline initialized")

	return a, nil
}

// Runner returns a workflow runner with the hazard workflow registered.
// rt may be nil for synchronous-only use.
func (a *App) Runner(rt *dbosruntime.Runtime) *workflows.WorkflowRunner {
	runner := workflows.NewWorkflowRunner(rt)
	runner.Register(pipeline.JobHazardAssessment, a.Workflow)
	a.Log.Info().Str("workflow", a.Workflow.Name()).Str("job", pipeline.JobHazardAssessment).Msg("Registered workflow")
	return runner
}

// Close releases backends in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
