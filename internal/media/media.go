// Package media uploads profile images to object storage and returns their public URLs.
package media

import (
	"context"
	"errors"
)

var (
	// ErrNoFile is returned when Upload is called with an empty path.
	ErrNoFile = errors.New("media: no file to upload")
	// ErrDisabled is returned by the Disabled store.
	ErrDisabled = errors.New("media: uploads are not configured")
)

// Store accepts a local file path and returns a public URL for the stored object.
type Store interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Disabled is a Store that rejects every upload. Used when no bucket is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, string) (string, error) { return "", ErrDisabled }
