package persist

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/simple-hazard-pipeline/internal/caption"
	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
)

func newPersister(t *testing.T, images storage.ImageStore, audits metadata.AuditStore) (*Persister, string) {
	t.Helper()
	scratch := t.TempDir()
	return NewPersister(images, audits, Config{DestBucket: "results", ScratchDir: scratch, ModelName: "claude"}, zerolog.Nop()), scratch
}

func TestResultLocation(t *testing.T) {
	p := NewPersister(nil, nil, Config{DestBucket: "results"}, zerolog.Nop())

	a := p.ResultLocation(storage.Location{Bucket: "cams", Key: "north/gate/frame.png"})
	b := p.ResultLocation(storage.Location{Bucket: "other", Key: "south/frame.png"})
	assert.Equal(t, storage.Location{Bucket: "results", Key: "images/frame.png"}, a)
	assert.Equal(t, a, b, "same base name, same destination")

	custom := NewPersister(nil, nil, Config{DestBucket: "r", Prefix: "annotated"}, zerolog.Nop())
	assert.Equal(t, "annotated/x.jpg", custom.ResultLocation(storage.Location{Key: "x.jpg"}).Key)
}

func TestPersist(t *testing.T) {
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	audits := metadata.NewMemoryStore()
	p, scratch := newPersister(t, fs, audits)

	at := time.Unix(1712345678, 500000000)
	rec, err := p.Persist(context.Background(), Artifacts{
		Source:    storage.Location{Bucket: "cams", Key: "gate/frame.png"},
		Annotated: imaging.New(8, 8, color.NRGBA{255, 0, 0, 255}),
		Labels:    &detection.LabelsResponse{Labels: []detection.Label{{Name: "Person", Confidence: 99}}},
		PPE:       &detection.PPEResponse{ResponseDate: "d"},
		Caption:   caption.Result{Caption: "ok", Classification: 1, RiskLevel: 7, Outcome: caption.OutcomeOK},
		At:        at,
	})
	require.NoError(t, err)

	assert.Equal(t, metadata.LatestAuditID, rec.ID)
	assert.Equal(t, "1712345678.500000", rec.Timestamp)
	assert.Equal(t, "s3://cams/gate/frame.png", rec.SourceLocation)
	assert.Equal(t, "s3://results/images/frame.png", rec.ResultLocation)
	assert.Equal(t, "1", rec.Classification)
	assert.Equal(t, "7", rec.RiskLevel)
	assert.Equal(t, "claude", rec.ModelName)
	assert.Contains(t, rec.RawLabels, `"Name":"Person"`)
	assert.Contains(t, rec.RawPPE, `"ResponseDate":"d"`)

	stored, err := audits.GetAudit(context.Background(), metadata.LatestAuditID)
	require.NoError(t, err)
	assert.Equal(t, *rec, *stored)

	data, err := fs.Download(context.Background(), storage.Location{Bucket: "results", Key: "images/frame.png"})
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch file removed")
}

func TestPersist_FallbackCaptionStoredAsZeros(t *testing.T) {
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	audits := metadata.NewMemoryStore()
	p, _ := newPersister(t, fs, audits)

	rec, err := p.Persist(context.Background(), Artifacts{
		Source:    storage.Location{Bucket: "cams", Key: "frame"},
		Annotated: imaging.New(4, 4, color.White),
		Caption:   caption.Parse("not json"),
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, caption.FallbackCaption, rec.Caption)
	assert.Equal(t, "0", rec.Classification)
	assert.Equal(t, "0", rec.RiskLevel)
	assert.Equal(t, "null", rec.RawLabels)
}

type recordingStore struct {
	contentType string
	err         error
}

func (r *recordingStore) Download(ctx context.Context, loc storage.Location) ([]byte, error) {
	return nil, storage.ErrObjectNotFound
}

func (r *recordingStore) Upload(ctx context.Context, loc storage.Location, body io.Reader, contentType string) error {
	r.contentType = contentType
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	return r.err
}

func TestPersist_UploadFailureSkipsAudit(t *testing.T) {
	boom := errors.New("access denied")
	audits := metadata.NewMemoryStore()
	images := &recordingStore{err: boom}
	p, scratch := newPersister(t, images, audits)

	_, err := p.Persist(context.Background(), Artifacts{
		Source:    storage.Location{Bucket: "cams", Key: "frame.jpg"},
		Annotated: imaging.New(4, 4, color.White),
		At:        time.Now(),
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "image/jpeg", images.contentType)

	_, err = audits.GetAudit(context.Background(), metadata.LatestAuditID)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersist_ContentStoreWritesDerivative(t *testing.T) {
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	require.NoError(t, err)
	defer cleanup()
	images := storage.NewContentStore(svc, uuid.New(), uuid.New())
	audits := metadata.NewMemoryStore()
	p, _ := newPersister(t, images, audits)
	ctx := context.Background()

	src, err := images.Ingest(ctx, storage.Location{Bucket: "cams", Key: "frame.png"}, bytes.NewReader([]byte("raw")), "image/png")
	require.NoError(t, err)

	rec, err := p.Persist(ctx, Artifacts{
		Source:    src,
		Annotated: imaging.New(6, 6, color.White),
		Caption:   caption.Result{Caption: "ok", Outcome: caption.OutcomeOK},
		At:        time.Now(),
	})
	require.NoError(t, err)

	dest, err := storage.ParseURI(rec.ResultLocation)
	require.NoError(t, err)
	assert.Equal(t, "results", dest.Bucket)
	assert.NotEqual(t, src.Key, dest.Key)

	data, err := images.Download(ctx, dest)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
}
