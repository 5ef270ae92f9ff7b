package domain

import (
	"context"
	"io"
)

// BlobWriter uploads immutable objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
	// PutMultipart uploads through a multipart uploader with the given part
	// size; zero picks the implementation minimum.
	PutMultipart(ctx context.Context, path string, body io.Reader, partSize int64) error
}
