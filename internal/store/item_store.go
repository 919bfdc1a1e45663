package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/dbx"
	"github.com/vbonduro/critterkeep/internal/domain"
)

const itemColumns = `variant_id, critter_id, critter_name, variant_name, family_id, family_name,
	family_species, member_type, role, image_url, thumbnail_url, status, added_at,
	price_paid, purchase_date, purchase_location, item_condition, notes, quantity`

// ItemStore persists owned items. Writes are serialized by mu and run in a
// transaction, so concurrent upserts for one variant never duplicate or lose
// updates.
type ItemStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, now: time.Now}
}

// Upsert creates the item for variantID or updates the existing one in
// place. Only non-nil fields are written. Moving an item into the collection
// resets AddedAt to now.
func (s *ItemStore) Upsert(ctx context.Context, variantID string, fields domain.ItemFields, status domain.Status) (*domain.OwnedItem, error) {
	const op = "upsert item"
	if variantID == "" {
		return nil, apperr.Newf(apperr.KindInvalidRequest, op, "variant id is required")
	}
	if !status.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, op, "unknown status %q", status)
	}
	if fields.Quantity != nil && *fields.Quantity < 1 {
		return nil, apperr.Newf(apperr.KindValidation, op, "quantity must be at least 1, got %d", *fields.Quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result *domain.OwnedItem
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := getItem(ctx, tx, variantID)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		if existing == nil {
			item := &domain.OwnedItem{VariantID: variantID, Status: status, AddedAt: now, Quantity: 1}
			fields.Apply(item)
			if err := insertItem(ctx, tx, item); err != nil {
				return err
			}
			result = item
			return nil
		}

		if status == domain.StatusCollection && existing.Status != domain.StatusCollection {
			existing.AddedAt = now
		}
		existing.Status = status
		fields.Apply(existing)
		if err := updateItem(ctx, tx, existing); err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, op, err)
	}
	return result, nil
}

// Restore merges a snapshot into the store. A new variant is inserted as-is;
// an existing one only takes the snapshot's status, purchase metadata and
// quantity, plus its AddedAt when the snapshot moves it into the collection.
// inserted reports which path was taken.
func (s *ItemStore) Restore(ctx context.Context, snapshot domain.OwnedItem) (inserted bool, err error) {
	const op = "restore item"
	if snapshot.VariantID == "" {
		return false, apperr.Newf(apperr.KindValidation, op, "variant id is required")
	}
	if !snapshot.Status.Valid() {
		return false, apperr.Newf(apperr.KindValidation, op, "unknown status %q", snapshot.Status)
	}
	if snapshot.Quantity < 1 {
		snapshot.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := getItem(ctx, tx, snapshot.VariantID)
		if err != nil {
			return err
		}

		if existing == nil {
			if snapshot.AddedAt.IsZero() {
				snapshot.AddedAt = s.now()
			}
			snapshot.AddedAt = snapshot.AddedAt.UTC()
			inserted = true
			return insertItem(ctx, tx, &snapshot)
		}

		// Moving into the collection restarts the added clock, as Upsert does.
		if existing.Status != domain.StatusCollection && snapshot.Status == domain.StatusCollection {
			if snapshot.AddedAt.IsZero() {
				existing.AddedAt = s.now().UTC()
			} else {
				existing.AddedAt = snapshot.AddedAt.UTC()
			}
		}
		existing.Status = snapshot.Status
		existing.PricePaid = snapshot.PricePaid
		existing.PurchaseDate = snapshot.PurchaseDate
		existing.PurchaseLocation = snapshot.PurchaseLocation
		existing.Condition = snapshot.Condition
		existing.Notes = snapshot.Notes
		existing.Quantity = snapshot.Quantity
		return updateItem(ctx, tx, existing)
	})
	if err != nil {
		return false, apperr.New(apperr.KindStorage, op, err)
	}
	return inserted, nil
}

// Remove deletes the item for variantID. Removing an absent item is not an
// error.
func (s *ItemStore) Remove(ctx context.Context, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM owned_items WHERE variant_id = ?`, variantID); err != nil {
		return apperr.New(apperr.KindStorage, "remove item", fmt.Errorf("failed to delete item: %w", err))
	}
	return nil
}

// DeleteAll removes every owned item.
func (s *ItemStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM owned_items`); err != nil {
		return apperr.New(apperr.KindStorage, "reset items", fmt.Errorf("failed to delete items: %w", err))
	}
	return nil
}

// Get returns the item for variantID, or nil if there is none.
func (s *ItemStore) Get(ctx context.Context, variantID string) (*domain.OwnedItem, error) {
	item, err := getItem(ctx, s.db, variantID)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "get item", err)
	}
	return item, nil
}

// List returns every item, most recently added first.
func (s *ItemStore) List(ctx context.Context) ([]*domain.OwnedItem, error) {
	return s.query(ctx, "list items", `SELECT `+itemColumns+` FROM owned_items ORDER BY added_at DESC, variant_id ASC`)
}

// ListByStatus returns the items with the given status, most recently added
// first.
func (s *ItemStore) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.OwnedItem, error) {
	return s.query(ctx, "list items by status", `
		SELECT `+itemColumns+` FROM owned_items
		WHERE status = ? ORDER BY added_at DESC, variant_id ASC
	`, string(status))
}

// ListByFamily returns the items of one family ordered by critter and
// variant name.
func (s *ItemStore) ListByFamily(ctx context.Context, familyID string) ([]*domain.OwnedItem, error) {
	return s.query(ctx, "list items by family", `
		SELECT `+itemColumns+` FROM owned_items
		WHERE family_id = ? ORDER BY critter_name COLLATE NOCASE ASC, variant_name COLLATE NOCASE ASC
	`, familyID)
}

// Counts returns the number of items per status.
func (s *ItemStore) Counts(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM owned_items GROUP BY status`)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "count items", fmt.Errorf("failed to count items: %w", err))
	}
	defer closeRows(rows)

	counts := map[domain.Status]int{domain.StatusCollection: 0, domain.StatusWishlist: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.New(apperr.KindStorage, "count items", fmt.Errorf("failed to scan count: %w", err))
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindStorage, "count items", fmt.Errorf("error iterating counts: %w", err))
	}
	return counts, nil
}

func (s *ItemStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.OwnedItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("failed to list items: %w", err))
	}
	defer closeRows(rows)

	var items []*domain.OwnedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperr.New(apperr.KindStorage, op, err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindStorage, op, fmt.Errorf("error iterating items: %w", err))
	}

	return items, nil
}

func getItem(ctx context.Context, q dbx.DBTX, variantID string) (*domain.OwnedItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM owned_items WHERE variant_id = ?`, variantID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func insertItem(ctx context.Context, q dbx.DBTX, item *domain.OwnedItem) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO owned_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.VariantID, item.CritterID, item.CritterName, item.VariantName, item.FamilyID, item.FamilyName,
		item.FamilySpecies, item.MemberType, item.Role, item.ImageURL, item.ThumbnailURL, string(item.Status),
		item.AddedAt, nullFloat(item.PricePaid), nullTime(item.PurchaseDate), item.PurchaseLocation,
		item.Condition, item.Notes, item.Quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func updateItem(ctx context.Context, q dbx.DBTX, item *domain.OwnedItem) error {
	_, err := q.ExecContext(ctx, `
		UPDATE owned_items SET
			critter_id = ?, critter_name = ?, variant_name = ?, family_id = ?, family_name = ?,
			family_species = ?, member_type = ?, role = ?, image_url = ?, thumbnail_url = ?,
			status = ?, added_at = ?, price_paid = ?, purchase_date = ?, purchase_location = ?,
			item_condition = ?, notes = ?, quantity = ?
		WHERE variant_id = ?
	`,
		item.CritterID, item.CritterName, item.VariantName, item.FamilyID, item.FamilyName,
		item.FamilySpecies, item.MemberType, item.Role, item.ImageURL, item.ThumbnailURL,
		string(item.Status), item.AddedAt.UTC(), nullFloat(item.PricePaid), nullTime(item.PurchaseDate),
		item.PurchaseLocation, item.Condition, item.Notes, item.Quantity,
		item.VariantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.OwnedItem, error) {
	item := &domain.OwnedItem{}
	var (
		status       string
		pricePaid    sql.NullFloat64
		purchaseDate sql.NullTime
	)
	err := row.Scan(
		&item.VariantID, &item.CritterID, &item.CritterName, &item.VariantName, &item.FamilyID, &item.FamilyName,
		&item.FamilySpecies, &item.MemberType, &item.Role, &item.ImageURL, &item.ThumbnailURL, &status, &item.AddedAt,
		&pricePaid, &purchaseDate, &item.PurchaseLocation, &item.Condition, &item.Notes, &item.Quantity,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	item.Status = domain.Status(status)
	if pricePaid.Valid {
		v := pricePaid.Float64
		item.PricePaid = &v
	}
	if purchaseDate.Valid {
		v := purchaseDate.Time
		item.PurchaseDate = &v
	}
	return item, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Error("failed to close rows", "error", err)
	}
}
