package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/critterkeep/internal/domain"
)

func TestFamilyStoreReplaceAll(t *testing.T) {
	d := openTestDB(t)
	families := NewFamilyStore(d)
	ctx := context.Background()

	require.NoError(t, families.ReplaceAll(ctx, []domain.Family{
		{ID: "f2", Name: "Walnut Squirrel", Slug: "walnut-squirrel", Species: "squirrel", CritterCount: 5},
		{ID: "f1", Name: "Chocolate Rabbit", Slug: "chocolate-rabbit", Species: "rabbit", CritterCount: 6},
	}))

	list, err := families.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Chocolate Rabbit", list[0].Name)
	assert.Equal(t, "Walnut Squirrel", list[1].Name)

	require.NoError(t, families.ReplaceAll(ctx, []domain.Family{
		{ID: "f3", Name: "Persian Cat", Species: "cat", CritterCount: 4},
	}))
	list, err = families.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "f3", list[0].ID)

	got, err := families.Get(ctx, "f3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.CritterCount)

	missing, err := families.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFamilyStoreReplaceAllFailureKeepsPrevious(t *testing.T) {
	d := openTestDB(t)
	families := NewFamilyStore(d)
	ctx := context.Background()

	before := []domain.Family{{ID: "f1", Name: "Chocolate Rabbit"}}
	require.NoError(t, families.ReplaceAll(ctx, before))

	// Duplicate ids violate the primary key halfway through the swap.
	err := families.ReplaceAll(ctx, []domain.Family{
		{ID: "f9", Name: "Koala"},
		{ID: "f9", Name: "Koala again"},
	})
	require.Error(t, err)

	list, err := families.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before[0].ID, list[0].ID)
	assert.Len(t, list, 1)
}

func TestSettingsStore(t *testing.T) {
	d := openTestDB(t)
	settings := NewSettingsStore(d)
	ctx := context.Background()

	_, ok, err := settings.Get(ctx, SettingLastSyncError)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, settings.Set(ctx, SettingLastSyncError, "offline"))
	require.NoError(t, settings.Set(ctx, SettingLastSyncError, "timeout"))
	value, ok, err := settings.Get(ctx, SettingLastSyncError)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "timeout", value)

	require.NoError(t, settings.Delete(ctx, SettingLastSyncError))
	_, ok, err = settings.Get(ctx, SettingLastSyncError)
	require.NoError(t, err)
	assert.False(t, ok)

	ts, err := settings.GetTime(ctx, SettingLastBackup)
	require.NoError(t, err)
	assert.Nil(t, ts)

	at := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, settings.SetTime(ctx, SettingLastBackup, at))
	ts, err = settings.GetTime(ctx, SettingLastBackup)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(at))
}
