package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestDisplayImageURLPrecedence(t *testing.T) {
	item := &OwnedItem{ImageURL: "https://img/full.jpg", ThumbnailURL: "https://img/thumb.jpg"}
	assert.Equal(t, "https://img/thumb.jpg", item.DisplayImageURL())

	item.ThumbnailURL = ""
	assert.Equal(t, "https://img/full.jpg", item.DisplayImageURL())

	item.ImageURL = ""
	assert.Empty(t, item.DisplayImageURL())
}

func TestDisplayFamilyName(t *testing.T) {
	item := &OwnedItem{}
	assert.Equal(t, UnknownFamilyName, item.DisplayFamilyName())

	item.FamilyName = "Walnut Squirrel"
	assert.Equal(t, "Walnut Squirrel", item.DisplayFamilyName())
}

func TestItemFieldsApplyLeavesNilFieldsUnchanged(t *testing.T) {
	price := 24.5
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	qty := 2

	item := &OwnedItem{CritterName: "Father", Notes: "boxed", Quantity: 1}
	ItemFields{
		VariantName:  strPtr("Classic"),
		PricePaid:    &price,
		PurchaseDate: &date,
		Quantity:     &qty,
	}.Apply(item)

	assert.Equal(t, "Father", item.CritterName)
	assert.Equal(t, "boxed", item.Notes)
	assert.Equal(t, "Classic", item.VariantName)
	assert.Equal(t, 2, item.Quantity)
	if assert.NotNil(t, item.PricePaid) {
		assert.Equal(t, 24.5, *item.PricePaid)
	}

	// Apply copies values; later edits to the patch do not leak.
	price = 99
	assert.Equal(t, 24.5, *item.PricePaid)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("wishlist")
	assert.NoError(t, err)
	assert.Equal(t, StatusWishlist, s)

	_, err = ParseStatus("owned")
	assert.Error(t, err)
	assert.False(t, Status("owned").Valid())
}
