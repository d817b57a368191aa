// Package file stores scan artifacts: sanitized documents and JSON scan
// reports. Backends: Amazon S3 (or any S3-compatible service) and the local
// filesystem for development.
package file

import (
	"context"
	"errors"
	"io"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
	ErrInvalidConfig  = errors.New("invalid storage configuration")
	ErrStorageFailure = errors.New("artifact storage failure")
)

// Storage persists artifacts under opaque keys. Keys are slash-separated
// paths scoped per user, e.g. "users/<id>/scans/<scan-id>/report.json".
type Storage interface {
	// Put writes the object, replacing any previous content under the key.
	Put(ctx context.Context, key, contentType string, body io.Reader) error

	// Get returns ErrObjectNotFound when the key does not exist. The caller
	// closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	// URL returns a public or signed download URL when the backend supports
	// one; empty otherwise.
	URL(key string) string
}
