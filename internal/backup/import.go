package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"strings"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/photostore"
)

// maxPhotoBytes bounds a single photo read out of an archive.
const maxPhotoBytes = 32 << 20

// ImportResult counts what an import did.
type ImportResult struct {
	Imported             int
	Updated              int
	PhotosImported       int
	PhotosSkipped        int
	PhotosFailed         int
	TotalInArchive       int
	TotalPhotosInArchive int
}

// ImportFile merges the archive at path into the collection.
func (e *Engine) ImportFile(ctx context.Context, filePath string) (*ImportResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, "import backup", fmt.Errorf("failed to open %s: %w", filePath, err))
	}
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Error("failed to close backup file", "path", filePath, "error", err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, "import backup", fmt.Errorf("failed to stat %s: %w", filePath, err))
	}
	return e.Import(ctx, f, info.Size())
}

// Import merges an archive into the collection. Nothing is removed: existing
// items take the archived status and purchase details, new items are
// inserted and photos already present are skipped. r may also hold a bare
// manifest.json from older exports.
func (e *Engine) Import(ctx context.Context, r io.ReaderAt, size int64) (*ImportResult, error) {
	const op = "import backup"

	if !isZip(r, size) {
		data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
		if err != nil {
			return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to read manifest: %w", err))
		}
		m, err := decodeManifest(data)
		if err != nil {
			return nil, err
		}
		e.logger.Info("importing bare manifest", "items", len(m.OwnedVariants))
		return e.apply(ctx, m, nil, "")
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to open archive: %w", err))
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	root, ok := findManifest(zr.File)
	if !ok {
		return nil, apperr.Newf(apperr.KindArchive, op, "archive has no %s", manifestName)
	}
	data, err := readEntry(files[root+manifestName], maxPhotoBytes)
	if err != nil {
		return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("failed to read manifest: %w", err))
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, err
	}
	e.logger.Info("importing archive", "items", len(m.OwnedVariants), "photos", len(m.Photos), "app_version", m.AppVersion)
	return e.apply(ctx, m, files, root)
}

func (e *Engine) apply(ctx context.Context, m *Manifest, files map[string]*zip.File, root string) (*ImportResult, error) {
	res := &ImportResult{
		TotalInArchive:       len(m.OwnedVariants),
		TotalPhotosInArchive: len(m.Photos),
	}

	known := make(map[string]struct{}, len(m.OwnedVariants))
	for _, rec := range m.OwnedVariants {
		item, err := rec.toItem()
		if err != nil {
			return res, apperr.New(apperr.KindDecoding, "import backup", err)
		}
		inserted, err := e.items.Restore(ctx, item)
		if err != nil {
			return res, fmt.Errorf("failed to restore %s: %w", rec.VariantUUID, err)
		}
		if inserted {
			res.Imported++
		} else {
			res.Updated++
		}
		known[rec.VariantUUID] = struct{}{}
	}

	existing, err := e.items.List(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list items: %w", err)
	}
	for _, item := range existing {
		known[item.VariantID] = struct{}{}
	}

	if len(m.Photos) > 0 && !hasPhotoFiles(files, root, m.Photos) {
		e.logger.Info("archive has no photos folder, skipping photos", "photos", len(m.Photos))
		m.Photos = nil
	}

	for _, rec := range m.Photos {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		skipped, err := e.importPhoto(ctx, rec, files, root, known)
		switch {
		case err != nil:
			e.logger.Warn("photo not imported", "photo_id", rec.ID, "variant_id", rec.VariantUUID, "error", err)
			res.PhotosFailed++
		case skipped:
			res.PhotosSkipped++
		default:
			res.PhotosImported++
		}
	}

	e.logger.Info("import complete",
		"imported", res.Imported, "updated", res.Updated,
		"photos_imported", res.PhotosImported, "photos_skipped", res.PhotosSkipped, "photos_failed", res.PhotosFailed)
	return res, nil
}

// importPhoto restores one photo. skipped is true when a photo with the same
// id already exists.
func (e *Engine) importPhoto(ctx context.Context, rec PhotoRecord, files map[string]*zip.File, root string, known map[string]struct{}) (skipped bool, err error) {
	exists, err := e.photos.Exists(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	f := lookupPhoto(files, root, rec.Filename)
	if f == nil {
		return false, fmt.Errorf("file %s not in archive", rec.Filename)
	}
	data, err := readEntry(f, maxPhotoBytes)
	if err != nil {
		return false, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("file %s is not an image: %w", rec.Filename, err)
	}
	if _, ok := known[rec.VariantUUID]; !ok {
		return false, fmt.Errorf("variant %s is not in the collection", rec.VariantUUID)
	}

	photo := &domain.Photo{
		ID:         rec.ID,
		VariantID:  rec.VariantUUID,
		StorageKey: photostore.Key(rec.VariantUUID, rec.ID),
		Caption:    rec.Caption,
		CapturedAt: rec.CapturedDate,
		SortOrder:  rec.SortOrder,
	}
	if err := e.blobs.Save(ctx, photo.StorageKey, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("failed to save photo file: %w", err)
	}
	if err := e.photos.Insert(ctx, photo); err != nil {
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), photo.StorageKey); derr != nil {
			e.logger.Error("failed to remove photo file", "storage_key", photo.StorageKey, "error", derr)
		}
		return false, err
	}
	return false, nil
}

func isZip(r io.ReaderAt, size int64) bool {
	if size < 4 {
		return false
	}
	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte("PK\x03\x04")) || bytes.Equal(magic, []byte("PK\x05\x06"))
}

// findManifest returns the directory prefix holding manifest.json: the archive
// root, or a single top-level folder as produced by zipping a directory.
func findManifest(files []*zip.File) (string, bool) {
	nested := ""
	found := false
	for _, f := range files {
		if f.Name == manifestName {
			return "", true
		}
		dir, base := path.Split(f.Name)
		if base != manifestName || strings.Count(dir, "/") != 1 || strings.HasPrefix(dir, "__MACOSX") {
			continue
		}
		if !found {
			nested, found = dir, true
		}
	}
	return nested, found
}

// lookupPhoto finds a photo under photos/ or, for archives without that
// folder, next to the manifest.
func lookupPhoto(files map[string]*zip.File, root, filename string) *zip.File {
	name := path.Base(filename)
	if f, ok := files[root+photosDir+name]; ok {
		return f
	}
	if f, ok := files[root+name]; ok {
		return f
	}
	return nil
}

// hasPhotoFiles reports whether the archive carries any photo files: a
// photos/ folder, or at least one listed photo next to the manifest. A bare
// manifest has none.
func hasPhotoFiles(files map[string]*zip.File, root string, photos []PhotoRecord) bool {
	if files == nil {
		return false
	}
	for name := range files {
		if strings.HasPrefix(name, root+photosDir) {
			return true
		}
	}
	for _, rec := range photos {
		if lookupPhoto(files, root, rec.Filename) != nil {
			return true
		}
	}
	return false
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, apperr.Newf(apperr.KindLimitExceeded, "read archive entry", "%s is larger than %d bytes", f.Name, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, apperr.Newf(apperr.KindLimitExceeded, "read archive entry", "%s is larger than %d bytes", f.Name, limit)
	}
	return data, nil
}
