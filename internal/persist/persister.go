// Package persist uploads annotated images and writes the audit record.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/caption"
	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
)

// DefaultPrefix is the key prefix for annotated images
const DefaultPrefix = "images"

// Config holds persister settings
type Config struct {
	DestBucket string
	Prefix     string
	ScratchDir string
	ModelName  string
}

// Persister writes one run's artifacts
type Persister struct {
	images storage.ImageStore
	audits metadata.AuditStore
	cfg    Config
	log    zerolog.Logger
}

// NewPersister creates a new persister
func NewPersister(images storage.ImageStore, audits metadata.AuditStore, cfg Config, log zerolog.Logger) *Persister {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Persister{images: images, audits: audits, cfg: cfg, log: log}
}

// Artifacts is everything one run produced
type Artifacts struct {
	Source    storage.Location
	Annotated image.Image
	Labels    *detection.LabelsResponse
	PPE       *detection.PPEResponse
	Caption   caption.Result
	At        time.Time
}

// ResultLocation maps a source image to its annotated destination. Sources
// sharing a base name map to the same destination.
func (p *Persister) ResultLocation(src storage.Location) storage.Location {
	return storage.Location{
		Bucket: p.cfg.DestBucket,
		Key:    path.Join(p.cfg.Prefix, src.BaseName()),
	}
}

// Persist uploads the annotated image and then overwrites the latest audit
// record. Stores that link derivatives to their source keep the annotated
// image under the location they report, and the audit record points there. The two writes are not atomic; a failure between them leaves an
// uploaded image without a matching record.
func (p *Persister) Persist(ctx context.Context, a Artifacts) (*metadata.AuditRecord, error) {
	dest := p.ResultLocation(a.Source)

	// Step 1: Encode to scratch
	scratch, contentType, err := p.writeScratch(a.Source.BaseName(), a.Annotated)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("path", scratch).Msg("Failed to remove scratch file")
		}
	}()

	// Step 2: Upload
	f, err := os.Open(scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch file: %w", err)
	}
	if du, ok := p.images.(storage.DerivedUploader); ok {
		var stored storage.Location
		stored, err = du.UploadDerived(ctx, a.Source, dest, f, contentType)
		if err == nil {
			dest = stored
		}
	} else {
		err = p.images.Upload(ctx, dest, f, contentType)
	}
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to upload annotated image to %s: %w", dest.URI(), err)
	}

	// Step 3: Audit record
	rawLabels, err := json.Marshal(a.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	rawPPE, err := json.Marshal(a.PPE)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ppe: %w", err)
	}

	rec := metadata.AuditRecord{
		ID:             metadata.LatestAuditID,
		Timestamp:      metadata.FormatTimestamp(a.At),
		Caption:        a.Caption.Caption,
		ModelName:      p.cfg.ModelName,
		RawLabels:      string(rawLabels),
		RawPPE:         string(rawPPE),
		SourceLocation: a.Source.URI(),
		ResultLocation: dest.URI(),
		Classification: strconv.Itoa(a.Caption.Classification),
		RiskLevel:      strconv.Itoa(a.Caption.RiskLevel),
	}
	if err := p.audits.PutAudit(ctx, rec); err != nil {
		p.log.Error().Err(err).Str("result", dest.URI()).Msg("Annotated image uploaded without audit record")
		return nil, fmt.Errorf("failed to write audit record: %w", err)
	}

	return &rec, nil
}

func (p *Persister) writeScratch(baseName string, img image.Image) (string, string, error) {
	format, err := imaging.FormatFromFilename(baseName)
	if err != nil {
		format = imaging.JPEG
	}

	scratch := filepath.Join(p.cfg.ScratchDir, uuid.New().String()+"_"+baseName)
	f, err := os.Create(scratch)
	if err != nil {
		return "", "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer f.Close()

	if err := imaging.Encode(f, img, format); err != nil {
		os.Remove(scratch)
		return "", "", fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return scratch, contentTypeFor(format), nil
}

func contentTypeFor(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
