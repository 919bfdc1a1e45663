package domain

import (
	"fmt"
	"time"
)

// MaxPhotosPerItem caps the photos attached to a single owned item.
const MaxPhotosPerItem = 12

// UnknownFamilyName is shown for items whose family was not known when they
// were added.
const UnknownFamilyName = "Unknown"

// Status expresses the user's intent toward a catalog variant.
type Status string

const (
	StatusCollection Status = "collection"
	StatusWishlist   Status = "wishlist"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCollection, StatusWishlist:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) Valid() bool {
	return s == StatusCollection || s == StatusWishlist
}

// OwnedItem is the local record of a catalog variant the user owns or wants.
// There is at most one per VariantID.
type OwnedItem struct {
	VariantID     string
	CritterID     string
	CritterName   string
	VariantName   string
	FamilyID      string
	FamilyName    string
	FamilySpecies string
	MemberType    string
	Role          string
	ImageURL      string
	ThumbnailURL  string

	Status  Status
	AddedAt time.Time

	PricePaid        *float64
	PurchaseDate     *time.Time
	PurchaseLocation string
	Condition        string
	Notes            string
	Quantity         int
}

// DisplayImageURL prefers the thumbnail and falls back to the full image.
func (i *OwnedItem) DisplayImageURL() string {
	if i.ThumbnailURL != "" {
		return i.ThumbnailURL
	}
	return i.ImageURL
}

// DisplayFamilyName falls back to UnknownFamilyName when no family is set.
func (i *OwnedItem) DisplayFamilyName() string {
	if i.FamilyName != "" {
		return i.FamilyName
	}
	return UnknownFamilyName
}

// ItemFields is a partial update for an OwnedItem. Nil fields are left
// unchanged on update and take their zero value (Quantity: 1) on insert.
type ItemFields struct {
	CritterID     *string
	CritterName   *string
	VariantName   *string
	FamilyID      *string
	FamilyName    *string
	FamilySpecies *string
	MemberType    *string
	Role          *string
	ImageURL      *string
	ThumbnailURL  *string

	PricePaid        *float64
	PurchaseDate     *time.Time
	PurchaseLocation *string
	Condition        *string
	Notes            *string
	Quantity         *int
}

// Apply copies every non-nil field onto item.
func (f ItemFields) Apply(item *OwnedItem) {
	setString(&item.CritterID, f.CritterID)
	setString(&item.CritterName, f.CritterName)
	setString(&item.VariantName, f.VariantName)
	setString(&item.FamilyID, f.FamilyID)
	setString(&item.FamilyName, f.FamilyName)
	setString(&item.FamilySpecies, f.FamilySpecies)
	setString(&item.MemberType, f.MemberType)
	setString(&item.Role, f.Role)
	setString(&item.ImageURL, f.ImageURL)
	setString(&item.ThumbnailURL, f.ThumbnailURL)
	setString(&item.PurchaseLocation, f.PurchaseLocation)
	setString(&item.Condition, f.Condition)
	setString(&item.Notes, f.Notes)
	if f.PricePaid != nil {
		v := *f.PricePaid
		item.PricePaid = &v
	}
	if f.PurchaseDate != nil {
		v := *f.PurchaseDate
		item.PurchaseDate = &v
	}
	if f.Quantity != nil {
		item.Quantity = *f.Quantity
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// Photo is a user-captured image attached to an owned item. The bytes live in
// the photo store under StorageKey.
type Photo struct {
	ID         string
	VariantID  string
	StorageKey string
	Caption    string
	CapturedAt time.Time
	SortOrder  int
}

// Family is a cached reference record from the remote catalog.
type Family struct {
	ID           string
	Name         string
	Slug         string
	Species      string
	CritterCount int
}
