package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when the requested object does not exist
var ErrObjectNotFound = errors.New("object not found")

// Location names an object in a bucket (or container)
type Location struct {
	Bucket string
	Key    string
}

// URI renders the location the way the audit record stores it
func (l Location) URI() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

// BaseName returns the final path element of the key
func (l Location) BaseName() string {
	return path.Base(l.Key)
}

// ParseURI parses an s3://bucket/key string
func ParseURI(uri string) (Location, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return Location{}, fmt.Errorf("invalid location %q: missing s3:// scheme", uri)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("invalid location %q: expected s3://bucket/key", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// ImageStore provides read and write access to stored images
type ImageStore interface {
	// Download returns the full object body at loc
	Download(ctx context.Context, loc Location) ([]byte, error)

	// Upload writes r to loc, replacing any existing object
	Upload(ctx context.Context, loc Location, r io.Reader, contentType string) error
}

// Ingester is implemented by stores that assign their own keys to new
// objects. Ingest returns where r was stored.
type Ingester interface {
	Ingest(ctx context.Context, loc Location, r io.Reader, contentType string) (Location, error)
}

// DerivedUploader is implemented by stores that link a derived image to the
// image it was made from. UploadDerived returns where r was stored.
type DerivedUploader interface {
	UploadDerived(ctx context.Context, src, dest Location, r io.Reader, contentType string) (Location, error)
}

// Save stores r as a new source image. Stores that assign their own keys
// report the key they chose; others write at loc.
func Save(ctx context.Context, images ImageStore, loc Location, r io.Reader, contentType string) (Location, error) {
	if in, ok := images.(Ingester); ok {
		return in.Ingest(ctx, loc, r, contentType)
	}
	if err := images.Upload(ctx, loc, r, contentType); err != nil {
		return Location{}, err
	}
	return loc, nil
}
