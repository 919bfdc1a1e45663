package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/dbx"
	"github.com/vbonduro/critterkeep/internal/domain"
)

const photoColumns = `id, variant_id, storage_key, caption, captured_at, sort_order`

// PhotoStore persists photo records. The photo cap is checked in the same
// locked transaction as the insert.
type PhotoStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db, now: time.Now}
}

// Add attaches a new photo, assigning CapturedAt (when zero) and the next
// SortOrder for its variant.
func (s *PhotoStore) Add(ctx context.Context, photo *domain.Photo) error {
	return s.create(ctx, "add photo", photo, true)
}

// Insert stores photo exactly as given. Used when restoring from a backup.
func (s *PhotoStore) Insert(ctx context.Context, photo *domain.Photo) error {
	return s.create(ctx, "insert photo", photo, false)
}

func (s *PhotoStore) create(ctx context.Context, op string, photo *domain.Photo, assignOrder bool) error {
	if photo.ID == "" || photo.VariantID == "" {
		return apperr.Newf(apperr.KindValidation, op, "photo id and variant id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var limitErr error
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		var count, maxOrder int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(MAX(sort_order), -1) FROM photos WHERE variant_id = ?
		`, photo.VariantID).Scan(&count, &maxOrder)
		if err != nil {
			return fmt.Errorf("failed to count photos: %w", err)
		}
		if count >= domain.MaxPhotosPerItem {
			limitErr = apperr.Newf(apperr.KindLimitExceeded, op,
				"variant %s already has %d photos", photo.VariantID, domain.MaxPhotosPerItem)
			return limitErr
		}

		if assignOrder {
			photo.SortOrder = maxOrder + 1
			if photo.CapturedAt.IsZero() {
				photo.CapturedAt = s.now()
			}
		}
		photo.CapturedAt = photo.CapturedAt.UTC()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO photos (`+photoColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		`, photo.ID, photo.VariantID, photo.StorageKey, photo.Caption, photo.CapturedAt, photo.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to insert photo: %w", err)
		}
		return nil
	})
	if limitErr != nil {
		return limitErr
	}
	if err != nil {
		return apperr.New(apperr.KindStorage, op, err)
	}
	return nil
}

// Get returns the photo with id, or nil if there is none.
func (s *PhotoStore) Get(ctx context.Context, id string) (*domain.Photo, error) {
	photo, err := scanPhoto(s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "get photo", err)
	}
	return photo, nil
}

// Exists reports whether a photo with id is stored.
func (s *PhotoStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE id = ?`, id).Scan(&n); err != nil {
		return false, apperr.New(apperr.KindStorage, "check photo", fmt.Errorf("failed to check photo: %w", err))
	}
	return n > 0, nil
}

// CountByVariant returns the number of photos attached to variantID.
func (s *PhotoStore) CountByVariant(ctx context.Context, variantID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE variant_id = ?`, variantID).Scan(&n); err != nil {
		return 0, apperr.New(apperr.KindStorage, "count photos", fmt.Errorf("failed to count photos: %w", err))
	}
	return n, nil
}

// ListByVariant returns the photos of one item in display order. Photos
// whose item has been removed are excluded.
func (s *PhotoStore) ListByVariant(ctx context.Context, variantID string) ([]*domain.Photo, error) {
	return s.query(ctx, "list photos", `
		SELECT p.id, p.variant_id, p.storage_key, p.caption, p.captured_at, p.sort_order
		FROM photos p JOIN owned_items i ON i.variant_id = p.variant_id
		WHERE p.variant_id = ? ORDER BY p.sort_order ASC, p.captured_at ASC
	`, variantID)
}

// List returns every photo, orphans included, grouped by variant in display
// order.
func (s *PhotoStore) List(ctx context.Context) ([]*domain.Photo, error) {
	return s.query(ctx, "list photos", `
		SELECT `+photoColumns+` FROM photos ORDER BY variant_id ASC, sort_order ASC, captured_at ASC
	`)
}

// Delete removes the photo with id. The owning item is left untouched even
// when this was its last photo.
func (s *PhotoStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return apperr.New(apperr.KindStorage, "delete photo", fmt.Errorf("failed to delete photo: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperr.New(apperr.KindStorage, "delete photo", fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "delete photo", "photo %s not found", id)
	}

	return nil
}

// DeleteByVariant removes every photo attached to variantID and returns the
// removed records so the caller can clean up their blobs.
func (s *PhotoStore) DeleteByVariant(ctx context.Context, variantID string) ([]*domain.Photo, error) {
	return s.deleteWhere(ctx, "delete photos for item", `WHERE variant_id = ?`, variantID)
}

// DeleteAll removes every photo record and returns them.
func (s *PhotoStore) DeleteAll(ctx context.Context) ([]*domain.Photo, error) {
	return s.deleteWhere(ctx, "reset photos", ``)
}

func (s *PhotoStore) deleteWhere(ctx context.Context, op, where string, args ...any) ([]*domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*domain.Photo
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		photos, err := queryPhotos(ctx, tx, `SELECT `+photoColumns+` FROM photos `+where, args...)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM photos `+where, args...); err != nil {
			return fmt.Errorf("failed to delete photos: %w", err)
		}
		removed = photos
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, op, err)
	}
	return removed, nil
}

func (s *PhotoStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Photo, error) {
	photos, err := queryPhotos(ctx, s.db, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, op, err)
	}
	return photos, nil
}

func queryPhotos(ctx context.Context, q dbx.DBTX, query string, args ...any) ([]*domain.Photo, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer closeRows(rows)

	var photos []*domain.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating photos: %w", err)
	}

	return photos, nil
}

func scanPhoto(row scanner) (*domain.Photo, error) {
	photo := &domain.Photo{}
	err := row.Scan(&photo.ID, &photo.VariantID, &photo.StorageKey, &photo.Caption, &photo.CapturedAt, &photo.SortOrder)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan photo: %w", err)
	}
	return photo, nil
}
