package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/domain"
)

func newPhoto(variantID string) *domain.Photo {
	id := uuid.NewString()
	return &domain.Photo{ID: id, VariantID: variantID, StorageKey: variantID + "_" + id + ".jpg"}
}

func TestPhotoStoreAdd(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)

	first := newPhoto("v-1")
	first.Caption = "front"
	require.NoError(t, photos.Add(ctx, first))
	second := newPhoto("v-1")
	require.NoError(t, photos.Add(ctx, second))

	assert.Equal(t, 0, first.SortOrder)
	assert.Equal(t, 1, second.SortOrder)
	assert.False(t, first.CapturedAt.IsZero())

	list, err := photos.ListByVariant(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "front", list[0].Caption)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestPhotoStoreCap(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	for i := 0; i < domain.MaxPhotosPerItem; i++ {
		require.NoError(t, photos.Add(ctx, newPhoto("v-1")), "photo %d", i)
	}

	err := photos.Add(ctx, newPhoto("v-1"))
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))

	n, err := photos.CountByVariant(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPhotosPerItem, n)

	// The cap is per item.
	assert.NoError(t, photos.Add(ctx, newPhoto("v-2")))
}

func TestPhotoStoreCapConcurrent(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for i := 0; i < domain.MaxPhotosPerItem+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := photos.Add(ctx, newPhoto("v-1"))
			if errors.Is(err, apperr.ErrLimitExceeded) {
				mu.Lock()
				limited++
				mu.Unlock()
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := photos.CountByVariant(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPhotosPerItem, n)
	assert.Equal(t, 5, limited)
}

func TestPhotoStoreInsertKeepsFields(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	p := newPhoto("v-1")
	p.SortOrder = 7
	p.Caption = "restored"
	require.NoError(t, photos.Insert(ctx, p))

	got, err := photos.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.SortOrder)
	assert.Equal(t, "restored", got.Caption)

	exists, err := photos.Exists(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	// Inserting the same id twice fails rather than overwriting.
	assert.Error(t, photos.Insert(ctx, p))
}

func TestPhotoStoreDeleteLastPhotoKeepsItem(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)
	p := newPhoto("v-1")
	require.NoError(t, photos.Add(ctx, p))

	require.NoError(t, photos.Delete(ctx, p.ID))

	item, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.NotNil(t, item)

	got, err := photos.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPhotoStoreDeleteNotFound(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)

	err := photos.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPhotoStoreOrphansIgnoredByItemQueries(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	require.NoError(t, photos.Add(ctx, newPhoto("v-orphan")))

	list, err := photos.ListByVariant(ctx, "v-orphan")
	require.NoError(t, err)
	assert.Empty(t, list)

	all, err := photos.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPhotoStoreDeleteByVariant(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, photos.Add(ctx, newPhoto("v-1")))
	}
	keep := newPhoto("v-2")
	require.NoError(t, photos.Add(ctx, keep))

	removed, err := photos.DeleteByVariant(ctx, "v-1")
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	all, err := photos.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)

	removed, err = photos.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}

func TestPhotoStoreValidation(t *testing.T) {
	d := openTestDB(t)
	photos := NewPhotoStore(d)

	err := photos.Add(context.Background(), &domain.Photo{ID: "", VariantID: "v-1"})
	assert.True(t, errors.Is(err, apperr.ErrValidation), fmt.Sprint(err))
}
