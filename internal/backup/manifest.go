package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/domain"
)

const (
	manifestName = "manifest.json"
	photosDir    = "photos/"
)

// Manifest is the index stored at the root of every archive.
type Manifest struct {
	ExportDate    time.Time     `json:"exportDate"`
	AppVersion    string        `json:"appVersion"`
	OwnedVariants []ItemRecord  `json:"ownedVariants"`
	Photos        []PhotoRecord `json:"photos"`
}

type ItemRecord struct {
	VariantUUID      string     `json:"variantUuid"`
	CritterUUID      string     `json:"critterUuid"`
	CritterName      string     `json:"critterName"`
	VariantName      string     `json:"variantName"`
	FamilyID         string     `json:"familyId"`
	FamilyName       string     `json:"familyName,omitempty"`
	FamilySpecies    string     `json:"familySpecies,omitempty"`
	MemberType       string     `json:"memberType"`
	Role             string     `json:"role,omitempty"`
	ImageURL         string     `json:"imageURL,omitempty"`
	ThumbnailURL     string     `json:"thumbnailURL,omitempty"`
	Status           string     `json:"status"`
	AddedDate        time.Time  `json:"addedDate"`
	PricePaid        *float64   `json:"pricePaid,omitempty"`
	PurchaseDate     *time.Time `json:"purchaseDate,omitempty"`
	PurchaseLocation string     `json:"purchaseLocation,omitempty"`
	Condition        string     `json:"condition,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Quantity         int        `json:"quantity"`
}

type PhotoRecord struct {
	ID           string    `json:"id"`
	VariantUUID  string    `json:"variantUuid"`
	Filename     string    `json:"filename"`
	Caption      string    `json:"caption,omitempty"`
	CapturedDate time.Time `json:"capturedDate"`
	SortOrder    int       `json:"sortOrder"`
}

// archiveTime normalises timestamps to whole UTC seconds, the precision
// other readers of the format expect.
func archiveTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func itemRecord(item *domain.OwnedItem) ItemRecord {
	rec := ItemRecord{
		VariantUUID:      item.VariantID,
		CritterUUID:      item.CritterID,
		CritterName:      item.CritterName,
		VariantName:      item.VariantName,
		FamilyID:         item.FamilyID,
		FamilyName:       item.FamilyName,
		FamilySpecies:    item.FamilySpecies,
		MemberType:       item.MemberType,
		Role:             item.Role,
		ImageURL:         item.ImageURL,
		ThumbnailURL:     item.ThumbnailURL,
		Status:           string(item.Status),
		AddedDate:        archiveTime(item.AddedAt),
		PricePaid:        item.PricePaid,
		PurchaseLocation: item.PurchaseLocation,
		Condition:        item.Condition,
		Notes:            item.Notes,
		Quantity:         item.Quantity,
	}
	if item.PurchaseDate != nil {
		d := archiveTime(*item.PurchaseDate)
		rec.PurchaseDate = &d
	}
	return rec
}

func (r ItemRecord) toItem() (domain.OwnedItem, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.OwnedItem{}, fmt.Errorf("variant %s: %w", r.VariantUUID, err)
	}
	quantity := r.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return domain.OwnedItem{
		VariantID:        r.VariantUUID,
		CritterID:        r.CritterUUID,
		CritterName:      r.CritterName,
		VariantName:      r.VariantName,
		FamilyID:         r.FamilyID,
		FamilyName:       r.FamilyName,
		FamilySpecies:    r.FamilySpecies,
		MemberType:       r.MemberType,
		Role:             r.Role,
		ImageURL:         r.ImageURL,
		ThumbnailURL:     r.ThumbnailURL,
		Status:           status,
		AddedAt:          r.AddedDate,
		PricePaid:        r.PricePaid,
		PurchaseDate:     r.PurchaseDate,
		PurchaseLocation: r.PurchaseLocation,
		Condition:        r.Condition,
		Notes:            r.Notes,
		Quantity:         quantity,
	}, nil
}

func photoRecord(p *domain.Photo, filename string) PhotoRecord {
	return PhotoRecord{
		ID:           p.ID,
		VariantUUID:  p.VariantID,
		Filename:     filename,
		Caption:      p.Caption,
		CapturedDate: archiveTime(p.CapturedAt),
		SortOrder:    p.SortOrder,
	}
}

// decodeManifest parses and validates a manifest. Bytes that are not JSON
// mean the archive is corrupt; JSON of the wrong shape is a decoding error.
func decodeManifest(data []byte) (*Manifest, error) {
	const op = "read manifest"
	var m Manifest
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, apperr.New(apperr.KindArchive, op, fmt.Errorf("manifest is not valid JSON: %w", err))
		}
		return nil, apperr.New(apperr.KindDecoding, op, fmt.Errorf("failed to decode manifest: %w", err))
	}

	if m.OwnedVariants == nil {
		return nil, apperr.Newf(apperr.KindDecoding, op, "manifest has no ownedVariants")
	}
	for i, rec := range m.OwnedVariants {
		if rec.VariantUUID == "" {
			return nil, apperr.Newf(apperr.KindDecoding, op, "ownedVariants[%d] is missing variantUuid", i)
		}
		if _, err := domain.ParseStatus(rec.Status); err != nil {
			return nil, apperr.New(apperr.KindDecoding, op, fmt.Errorf("ownedVariants[%d]: %w", i, err))
		}
	}
	for i, rec := range m.Photos {
		if rec.ID == "" || rec.VariantUUID == "" || rec.Filename == "" {
			return nil, apperr.Newf(apperr.KindDecoding, op, "photos[%d] is missing id, variantUuid or filename", i)
		}
	}
	return &m, nil
}
