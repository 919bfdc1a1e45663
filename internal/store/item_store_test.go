package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/db"
	"github.com/vbonduro/critterkeep/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// fakeClock hands out increasing timestamps one minute apart.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Minute)
	return c.cur
}

func countItems(t *testing.T, d *sql.DB, variantID string) int {
	t.Helper()
	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM owned_items WHERE variant_id = ?`, variantID).Scan(&n))
	return n
}

func TestItemStoreUpsertInserts(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	item, err := items.Upsert(ctx, "v-1", domain.ItemFields{
		CritterName: strPtr("Hazelnut Chipmunk Father"),
		FamilyID:    strPtr("fam-1"),
		FamilyName:  strPtr("Hazelnut Chipmunk"),
	}, domain.StatusCollection)
	require.NoError(t, err)
	assert.Equal(t, "v-1", item.VariantID)
	assert.Equal(t, domain.StatusCollection, item.Status)
	assert.Equal(t, 1, item.Quantity)
	assert.False(t, item.AddedAt.IsZero())

	stored, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Hazelnut Chipmunk Father", stored.CritterName)
	assert.Equal(t, "Hazelnut Chipmunk", stored.FamilyName)
	assert.Nil(t, stored.PricePaid)
	assert.Nil(t, stored.PurchaseDate)
}

func TestItemStoreUpsertDeduplicates(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{CritterName: strPtr("Mother")}, domain.StatusCollection)
	require.NoError(t, err)
	item, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusWishlist)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWishlist, item.Status)
	assert.Equal(t, "Mother", item.CritterName, "fields not supplied must be left unchanged")
	assert.Equal(t, 1, countItems(t, d, "v-1"))
}

func TestItemStoreUpsertAddedAtTransitions(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	clock := newFakeClock()
	items.now = clock.Now
	ctx := context.Background()

	wished, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusWishlist)
	require.NoError(t, err)

	collected, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)
	assert.True(t, collected.AddedAt.After(wished.AddedAt), "moving into the collection resets AddedAt")

	back, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusWishlist)
	require.NoError(t, err)
	assert.True(t, back.AddedAt.Equal(collected.AddedAt), "leaving the collection keeps AddedAt")

	// Re-upserting into the collection while already collected keeps AddedAt.
	again, err := items.Upsert(ctx, "v-2", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)
	same, err := items.Upsert(ctx, "v-2", domain.ItemFields{Notes: strPtr("mint")}, domain.StatusCollection)
	require.NoError(t, err)
	assert.True(t, same.AddedAt.Equal(again.AddedAt))

	stored, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.WithinDuration(t, collected.AddedAt, stored.AddedAt, time.Millisecond)
}

func TestItemStoreUpsertConcurrentSameKey(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.StatusCollection
			if i%2 == 0 {
				status = domain.StatusWishlist
			}
			_, err := items.Upsert(ctx, "v-race", domain.ItemFields{Quantity: intPtr(i + 1)}, status)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, countItems(t, d, "v-race"))
}

func TestItemStoreUpsertValidation(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "", domain.ItemFields{}, domain.StatusCollection)
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.Status("owned"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = items.Upsert(ctx, "v-1", domain.ItemFields{Quantity: intPtr(0)}, domain.StatusCollection)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Equal(t, 0, countItems(t, d, "v-1"))
}

func TestItemStoreUpsertPurchaseMetadata(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	price := 19.99
	bought := time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC)
	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{
		PricePaid:        &price,
		PurchaseDate:     &bought,
		PurchaseLocation: strPtr("Toy fair"),
		Condition:        strPtr("new in box"),
		Quantity:         intPtr(3),
	}, domain.StatusCollection)
	require.NoError(t, err)

	stored, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	require.NotNil(t, stored.PricePaid)
	assert.Equal(t, 19.99, *stored.PricePaid)
	require.NotNil(t, stored.PurchaseDate)
	assert.True(t, stored.PurchaseDate.Equal(bought))
	assert.Equal(t, "Toy fair", stored.PurchaseLocation)
	assert.Equal(t, "new in box", stored.Condition)
	assert.Equal(t, 3, stored.Quantity)
}

func TestItemStoreRemove(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)

	require.NoError(t, items.Remove(ctx, "v-1"))
	gone, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Removing an absent item is a no-op.
	assert.NoError(t, items.Remove(ctx, "v-1"))
}

func TestItemStoreQueries(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	items.now = newFakeClock().Now
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{FamilyID: strPtr("fam-a"), CritterName: strPtr("Father")}, domain.StatusCollection)
	require.NoError(t, err)
	_, err = items.Upsert(ctx, "v-2", domain.ItemFields{FamilyID: strPtr("fam-a"), CritterName: strPtr("Baby")}, domain.StatusWishlist)
	require.NoError(t, err)
	_, err = items.Upsert(ctx, "v-3", domain.ItemFields{FamilyID: strPtr("fam-b"), CritterName: strPtr("Sister")}, domain.StatusCollection)
	require.NoError(t, err)

	collection, err := items.ListByStatus(ctx, domain.StatusCollection)
	require.NoError(t, err)
	require.Len(t, collection, 2)
	assert.Equal(t, "v-3", collection[0].VariantID, "most recently added first")
	assert.Equal(t, "v-1", collection[1].VariantID)

	family, err := items.ListByFamily(ctx, "fam-a")
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, "Baby", family[0].CritterName)
	assert.Equal(t, "Father", family[1].CritterName)

	all, err := items.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := items.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusCollection])
	assert.Equal(t, 1, counts[domain.StatusWishlist])

	empty, err := items.ListByFamily(ctx, "fam-none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestItemStoreRestore(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	added := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	price := 12.0
	snapshot := domain.OwnedItem{
		VariantID:   "v-1",
		CritterName: "Grandmother",
		Status:      domain.StatusCollection,
		AddedAt:     added,
		PricePaid:   &price,
		Quantity:    2,
	}

	inserted, err := items.Restore(ctx, snapshot)
	require.NoError(t, err)
	assert.True(t, inserted)

	stored, err := items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, stored.AddedAt.Equal(added), "restored items keep their archived AddedAt")

	// Local display edits survive; mutable fields are refreshed.
	_, err = items.Upsert(ctx, "v-1", domain.ItemFields{CritterName: strPtr("Grandma")}, domain.StatusCollection)
	require.NoError(t, err)

	snapshot.Status = domain.StatusWishlist
	snapshot.Quantity = 5
	snapshot.Notes = "restored"
	inserted, err = items.Restore(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err = items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "Grandma", stored.CritterName)
	assert.Equal(t, domain.StatusWishlist, stored.Status)
	assert.Equal(t, 5, stored.Quantity)
	assert.Equal(t, "restored", stored.Notes)
	assert.Equal(t, 1, countItems(t, d, "v-1"))

	// Back into the collection from the wishlist: AddedAt follows the snapshot.
	moved := time.Date(2023, 6, 7, 8, 9, 10, 0, time.UTC)
	snapshot.Status = domain.StatusCollection
	snapshot.AddedAt = moved
	_, err = items.Restore(ctx, snapshot)
	require.NoError(t, err)
	stored, err = items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, stored.AddedAt.Equal(moved), "got %v", stored.AddedAt)

	// Already in the collection: AddedAt is left alone.
	snapshot.AddedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = items.Restore(ctx, snapshot)
	require.NoError(t, err)
	stored, err = items.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, stored.AddedAt.Equal(moved), "got %v", stored.AddedAt)
}

func TestItemStoreDeleteAll(t *testing.T) {
	d := openTestDB(t)
	items := NewItemStore(d)
	ctx := context.Background()

	_, err := items.Upsert(ctx, "v-1", domain.ItemFields{}, domain.StatusCollection)
	require.NoError(t, err)
	_, err = items.Upsert(ctx, "v-2", domain.ItemFields{}, domain.StatusWishlist)
	require.NoError(t, err)

	require.NoError(t, items.DeleteAll(ctx))
	all, err := items.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
