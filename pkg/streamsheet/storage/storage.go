// Package storage uploads finished workbooks to durable locations.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

// ContentTypeXLSX is the MIME type of an Office Open XML workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	// ErrInvalidName is returned for object names that escape the storage root.
	ErrInvalidName = errors.New("storage: invalid object name")
	// ErrInvalidURI is returned by Delete for URIs the storage did not issue.
	ErrInvalidURI = errors.New("storage: invalid uri")
)

// FileStorage saves a stream under a name and returns a URI for it.
type FileStorage interface {
	Save(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, uri string) error
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
