package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// Derivation recorded on annotated images
const (
	AnnotationDerivation = "hazard_annotation"
	AnnotationVariant    = "hazard_annotation_v1"
)

// ContentStore implements ImageStore on a simple-content service.
// Keys are content IDs; the bucket is carried as a tag. Source images enter
// through Ingest and annotated images are stored as derived content of their
// source.
type ContentStore struct {
	service  simplecontent.Service
	ownerID  uuid.UUID
	tenantID uuid.UUID
}

// NewContentStore creates a new content store using simple-content service
func NewContentStore(service simplecontent.Service, ownerID, tenantID uuid.UUID) *ContentStore {
	return &ContentStore{
		service:  service,
		ownerID:  ownerID,
		tenantID: tenantID,
	}
}

// Download reads content by content ID
func (cs *ContentStore) Download(ctx context.Context, loc Location) ([]byte, error) {
	id, err := uuid.Parse(loc.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}

	reader, err := cs.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	return data, nil
}

// Ingest stores r as new content named after loc.Key and returns the
// location of the new content ID
func (cs *ContentStore) Ingest(ctx context.Context, loc Location, r io.Reader, contentType string) (Location, error) {
	content, err := cs.service.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:      cs.ownerID,
		TenantID:     cs.tenantID,
		Name:         loc.Key,
		DocumentType: contentType,
		Reader:       r,
		FileName:     loc.BaseName(),
		Tags:         []string{loc.Bucket},
	})
	if err != nil {
		return Location{}, fmt.Errorf("failed to upload content: %w", err)
	}

	return Location{Bucket: loc.Bucket, Key: content.ID.String()}, nil
}

// Upload stores r as new content. The assigned ID is discarded; use Ingest
// or UploadDerived to learn it.
func (cs *ContentStore) Upload(ctx context.Context, loc Location, r io.Reader, contentType string) error {
	_, err := cs.Ingest(ctx, loc, r, contentType)
	return err
}

// UploadDerived stores r as the annotated derivative of src
func (cs *ContentStore) UploadDerived(ctx context.Context, src, dest Location, r io.Reader, contentType string) (Location, error) {
	parentID, err := uuid.Parse(src.Key)
	if err != nil {
		return Location{}, fmt.Errorf("invalid content ID: %w", err)
	}

	derived, err := cs.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: AnnotationDerivation,
		Variant:        AnnotationVariant,
		Reader:         r,
		FileName:       dest.BaseName(),
		Tags:           []string{dest.Bucket, AnnotationDerivation, contentType},
	})
	if err != nil {
		return Location{}, fmt.Errorf("failed to upload derived content: %w", err)
	}

	return Location{Bucket: dest.Bucket, Key: derived.ID.String()}, nil
}
