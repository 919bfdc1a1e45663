package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbonduro/critterkeep/internal/apperr"
)

type LocalPhotoStore struct {
	basePath string
}

func NewLocalPhotoStore(basePath string) (*LocalPhotoStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalPhotoStore{basePath: basePath}, nil
}

// Save writes r to a temp file next to the target and renames it into place,
// so a reader never sees a partial photo.
func (s *LocalPhotoStore) Save(ctx context.Context, storageKey string, r io.Reader) error {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.basePath, ".photo-*.tmp")
	if err != nil {
		return apperr.New(apperr.KindStorage, "save photo", fmt.Errorf("failed to create file: %w", err))
	}
	tmpPath := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		removeTemp(tmpPath)
		return apperr.New(apperr.KindStorage, "save photo", fmt.Errorf("failed to write file: %w", err))
	}
	if err := f.Close(); err != nil {
		removeTemp(tmpPath)
		return apperr.New(apperr.KindStorage, "save photo", fmt.Errorf("failed to close file: %w", err))
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		removeTemp(tmpPath)
		return apperr.New(apperr.KindStorage, "save photo", fmt.Errorf("failed to move file into place: %w", err))
	}
	return nil
}

func (s *LocalPhotoStore) Get(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.KindNotFound, "get photo", "photo %s not found", storageKey)
		}
		return nil, apperr.New(apperr.KindStorage, "get photo", fmt.Errorf("failed to open file: %w", err))
	}
	return f, nil
}

func (s *LocalPhotoStore) Delete(ctx context.Context, storageKey string) error {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return apperr.Newf(apperr.KindNotFound, "delete photo", "photo %s not found", storageKey)
		}
		return apperr.New(apperr.KindStorage, "delete photo", fmt.Errorf("failed to delete file: %w", err))
	}
	return nil
}

// safeJoin resolves storageKey relative to basePath and rejects directory traversal.
func (s *LocalPhotoStore) safeJoin(storageKey string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, storageKey))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", apperr.Newf(apperr.KindInvalidRequest, "resolve photo", "path traversal attempt: %q", storageKey)
	}
	return absPath, nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to remove temp file", "path", path, "error", err)
	}
}
