package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/dbx"
	"github.com/vbonduro/critterkeep/internal/domain"
)

// FamilyStore is the local read cache of catalog families.
type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

// ReplaceAll swaps the cached set for families in one transaction. On error
// the previous set is left intact.
func (s *FamilyStore) ReplaceAll(ctx context.Context, families []domain.Family) error {
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM families`); err != nil {
			return fmt.Errorf("failed to clear families: %w", err)
		}
		for _, f := range families {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO families (id, name, slug, species, critter_count) VALUES (?, ?, ?, ?, ?)
			`, f.ID, f.Name, f.Slug, f.Species, f.CritterCount)
			if err != nil {
				return fmt.Errorf("failed to insert family %s: %w", f.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.New(apperr.KindStorage, "replace families", err)
	}
	return nil
}

// Get returns the family with id, or nil if it is not cached.
func (s *FamilyStore) Get(ctx context.Context, id string) (*domain.Family, error) {
	f := &domain.Family{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, species, critter_count FROM families WHERE id = ?
	`, id).Scan(&f.ID, &f.Name, &f.Slug, &f.Species, &f.CritterCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "get family", fmt.Errorf("failed to get family: %w", err))
	}

	return f, nil
}

// List returns the cached families ordered by name.
func (s *FamilyStore) List(ctx context.Context) ([]domain.Family, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, species, critter_count FROM families ORDER BY name COLLATE NOCASE ASC, id ASC
	`)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "list families", fmt.Errorf("failed to list families: %w", err))
	}
	defer closeRows(rows)

	var families []domain.Family
	for rows.Next() {
		var f domain.Family
		if err := rows.Scan(&f.ID, &f.Name, &f.Slug, &f.Species, &f.CritterCount); err != nil {
			return nil, apperr.New(apperr.KindStorage, "list families", fmt.Errorf("failed to scan family: %w", err))
		}
		families = append(families, f)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindStorage, "list families", fmt.Errorf("error iterating families: %w", err))
	}

	return families, nil
}
