package photostore

import (
	"context"
	"io"
)

// PhotoStore holds raw photo bytes under caller-chosen storage keys. Get and
// Delete return an error matching apperr.ErrNotFound for unknown keys.
type PhotoStore interface {
	Save(ctx context.Context, storageKey string, r io.Reader) error
	Get(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// Key returns the storage key for a photo, matching the archive file name.
func Key(variantID, photoID string) string {
	return variantID + "_" + photoID + ".jpg"
}
