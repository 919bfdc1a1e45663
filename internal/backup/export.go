package backup

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/photostore"
	"github.com/vbonduro/critterkeep/internal/store"
)

// itemRepository is the subset of store.ItemStore the engine needs.
type itemRepository interface {
	List(ctx context.Context) ([]*domain.OwnedItem, error)
	Restore(ctx context.Context, snapshot domain.OwnedItem) (bool, error)
}

// photoRepository is the subset of store.PhotoStore the engine needs.
type photoRepository interface {
	List(ctx context.Context) ([]*domain.Photo, error)
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, photo *domain.Photo) error
}

// settingsRepository records backup outcomes.
type settingsRepository interface {
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	SetTime(ctx context.Context, key string, t time.Time) error
}

// Engine exports the collection to a zip archive and merges archives back in.
type Engine struct {
	items      itemRepository
	photos     photoRepository
	blobs      photostore.PhotoStore
	settings   settingsRepository
	appVersion string
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(items itemRepository, photos photoRepository, blobs photostore.PhotoStore, settings settingsRepository, appVersion string, logger *slog.Logger) *Engine {
	return &Engine{
		items:      items,
		photos:     photos,
		blobs:      blobs,
		settings:   settings,
		appVersion: appVersion,
		logger:     logger,
		now:        time.Now,
	}
}

// FileName returns the archive name for an export taken at t.
func FileName(t time.Time) string {
	return "critterkeep-backup-" + t.Format("20060102-150405") + ".zip"
}

// Export writes every item and its photos to w as a zip archive.
func (e *Engine) Export(ctx context.Context, w io.Writer) (*Manifest, error) {
	m, err := e.export(ctx, w)
	if err != nil {
		e.recordFailure(ctx, err)
		return nil, err
	}
	e.recordSuccess(ctx)
	return m, nil
}

// ExportFile writes a new archive into dir and returns its path. A partial
// archive is never left under the final name.
func (e *Engine) ExportFile(ctx context.Context, dir string) (string, *Manifest, error) {
	path, m, err := e.exportFile(ctx, dir)
	if err != nil {
		e.recordFailure(ctx, err)
		return "", nil, err
	}
	e.recordSuccess(ctx)
	return path, m, nil
}

func (e *Engine) exportFile(ctx context.Context, dir string) (string, *Manifest, error) {
	const op = "export backup"
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("failed to create backup directory: %w", err))
	}

	f, err := os.CreateTemp(dir, ".backup-*.tmp")
	if err != nil {
		return "", nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("failed to create backup file: %w", err))
	}
	tmpPath := f.Name()
	cleanup := func() {
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			e.logger.Error("failed to remove partial backup", "path", tmpPath, "error", rerr)
		}
	}

	m, err := e.export(ctx, f)
	if err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("failed to close backup file: %w", err))
	}

	path := filepath.Join(dir, FileName(m.ExportDate.Local()))
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return "", nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("failed to move backup into place: %w", err))
	}
	e.logger.Info("backup written", "path", path, "items", len(m.OwnedVariants), "photos", len(m.Photos))
	return path, m, nil
}

func (e *Engine) export(ctx context.Context, w io.Writer) (*Manifest, error) {
	const op = "export backup"

	items, err := e.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	photos, err := e.photos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}

	exportedAt := archiveTime(e.now())
	m := &Manifest{
		ExportDate:    exportedAt,
		AppVersion:    e.appVersion,
		OwnedVariants: make([]ItemRecord, 0, len(items)),
		Photos:        make([]PhotoRecord, 0, len(photos)),
	}
	owned := make(map[string]struct{}, len(items))
	for _, item := range items {
		m.OwnedVariants = append(m.OwnedVariants, itemRecord(item))
		owned[item.VariantID] = struct{}{}
	}

	zw := zip.NewWriter(w)
	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := owned[p.VariantID]; !ok {
			e.logger.Debug("skipping orphaned photo", "photo_id", p.ID, "variant_id", p.VariantID)
			continue
		}

		filename := photostore.Key(p.VariantID, p.ID)
		written, err := e.writePhoto(ctx, zw, p, filename, exportedAt)
		if err != nil {
			return nil, apperr.New(apperr.KindArchive, op, err)
		}
		if !written {
			continue
		}
		m.Photos = append(m.Photos, photoRecord(p, filename))
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to encode manifest: %w", err))
	}
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: manifestName, Method: zip.Deflate, Modified: exportedAt})
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to add manifest: %w", err))
	}
	if _, err := mw.Write(manifest); err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to write manifest: %w", err))
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to finish archive: %w", err))
	}
	return m, nil
}

// writePhoto copies one photo blob into the archive. A missing blob is
// skipped so the archive never references a file it does not contain.
func (e *Engine) writePhoto(ctx context.Context, zw *zip.Writer, p *domain.Photo, filename string, modified time.Time) (bool, error) {
	rc, err := e.blobs.Get(ctx, p.StorageKey)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			e.logger.Warn("photo file missing, leaving it out of backup", "photo_id", p.ID, "storage_key", p.StorageKey)
			return false, nil
		}
		return false, fmt.Errorf("failed to open photo %s: %w", p.ID, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			e.logger.Error("failed to close photo", "storage_key", p.StorageKey, "error", err)
		}
	}()

	// JPEG data is already compressed.
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: photosDir + filename, Method: zip.Store, Modified: modified})
	if err != nil {
		return false, fmt.Errorf("failed to add photo %s: %w", p.ID, err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return false, fmt.Errorf("failed to write photo %s: %w", p.ID, err)
	}
	return true, nil
}

func (e *Engine) recordSuccess(ctx context.Context) {
	if err := e.settings.SetTime(ctx, store.SettingLastBackup, e.now()); err != nil {
		e.logger.Error("failed to record backup time", "error", err)
	}
	if err := e.settings.Delete(ctx, store.SettingLastBackupError); err != nil {
		e.logger.Error("failed to clear backup error", "error", err)
	}
}

func (e *Engine) recordFailure(ctx context.Context, err error) {
	e.logger.Error("backup failed", "error", err)
	if serr := e.settings.Set(context.WithoutCancel(ctx), store.SettingLastBackupError, err.Error()); serr != nil {
		e.logger.Error("failed to record backup error", "error", serr)
	}
}
