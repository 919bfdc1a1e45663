package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/vbonduro/critterkeep/internal/apperr"
	"github.com/vbonduro/critterkeep/internal/catalog"
	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/photostore"
)

// itemRepository is the subset of store.ItemStore that CollectionService requires.
type itemRepository interface {
	Upsert(ctx context.Context, variantID string, fields domain.ItemFields, status domain.Status) (*domain.OwnedItem, error)
	Remove(ctx context.Context, variantID string) error
	DeleteAll(ctx context.Context) error
	Get(ctx context.Context, variantID string) (*domain.OwnedItem, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.OwnedItem, error)
	ListByFamily(ctx context.Context, familyID string) ([]*domain.OwnedItem, error)
	Counts(ctx context.Context) (map[domain.Status]int, error)
}

// photoRepository is the subset of store.PhotoStore that CollectionService requires.
type photoRepository interface {
	Add(ctx context.Context, photo *domain.Photo) error
	Get(ctx context.Context, id string) (*domain.Photo, error)
	CountByVariant(ctx context.Context, variantID string) (int, error)
	ListByVariant(ctx context.Context, variantID string) ([]*domain.Photo, error)
	Delete(ctx context.Context, id string) error
	DeleteByVariant(ctx context.Context, variantID string) ([]*domain.Photo, error)
	DeleteAll(ctx context.Context) ([]*domain.Photo, error)
}

// barcodeLookup is the subset of catalog.Client used for scanning.
type barcodeLookup interface {
	LookupBarcode(ctx context.Context, code string) (*catalog.Variant, error)
}

const photoJPEGQuality = 90

type CollectionService struct {
	itemStore  itemRepository
	photoStore photoRepository
	photoStg   photostore.PhotoStore
	catalog    barcodeLookup
	logger     *slog.Logger
}

func NewCollectionService(
	itemStore itemRepository,
	photoStore photoRepository,
	photoStg photostore.PhotoStore,
	catalog barcodeLookup,
	logger *slog.Logger,
) *CollectionService {
	return &CollectionService{
		itemStore:  itemStore,
		photoStore: photoStore,
		photoStg:   photoStg,
		catalog:    catalog,
		logger:     logger,
	}
}

func (s *CollectionService) Upsert(ctx context.Context, variantID string, fields domain.ItemFields, status domain.Status) (*domain.OwnedItem, error) {
	item, err := s.itemStore.Upsert(ctx, variantID, fields, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("item saved", "variant_id", variantID, "status", status)
	return item, nil
}

// AddFromCatalog records v with status, copying its display fields so the
// item renders without the catalog.
func (s *CollectionService) AddFromCatalog(ctx context.Context, v catalog.Variant, status domain.Status) (*domain.OwnedItem, error) {
	return s.Upsert(ctx, v.ID, v.Fields(), status)
}

// ScanBarcode resolves a decoded barcode through the catalog and records the
// variant with status.
func (s *CollectionService) ScanBarcode(ctx context.Context, code string, status domain.Status) (*domain.OwnedItem, error) {
	if s.catalog == nil {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "scan barcode", "catalog is not configured")
	}
	v, err := s.catalog.LookupBarcode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up barcode: %w", err)
	}
	s.logger.Info("barcode resolved", "barcode", code, "variant_id", v.ID)
	return s.AddFromCatalog(ctx, *v, status)
}

// Remove deletes the item and every photo attached to it.
func (s *CollectionService) Remove(ctx context.Context, variantID string) error {
	photos, err := s.photoStore.DeleteByVariant(ctx, variantID)
	if err != nil {
		return fmt.Errorf("failed to delete photos: %w", err)
	}
	s.deleteBlobs(ctx, photos)

	if err := s.itemStore.Remove(ctx, variantID); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	s.logger.Info("item removed", "variant_id", variantID, "photos_removed", len(photos))
	return nil
}

func (s *CollectionService) Get(ctx context.Context, variantID string) (*domain.OwnedItem, error) {
	return s.itemStore.Get(ctx, variantID)
}

func (s *CollectionService) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.OwnedItem, error) {
	return s.itemStore.ListByStatus(ctx, status)
}

func (s *CollectionService) ListByFamily(ctx context.Context, familyID string) ([]*domain.OwnedItem, error) {
	return s.itemStore.ListByFamily(ctx, familyID)
}

func (s *CollectionService) Counts(ctx context.Context) (map[domain.Status]int, error) {
	return s.itemStore.Counts(ctx)
}

// AddPhoto validates imageData, stores it as JPEG and attaches it to the
// item. The blob is removed again if the record cannot be created.
func (s *CollectionService) AddPhoto(ctx context.Context, variantID string, imageData []byte, caption string) (*domain.Photo, error) {
	const op = "add photo"
	s.logger.Info("add photo started", "variant_id", variantID, "bytes", len(imageData))

	item, err := s.itemStore.Get(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if item == nil {
		return nil, apperr.Newf(apperr.KindNotFound, op, "item %s not found", variantID)
	}

	count, err := s.photoStore.CountByVariant(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count photos: %w", err)
	}
	if count >= domain.MaxPhotosPerItem {
		return nil, apperr.Newf(apperr.KindLimitExceeded, op, "item %s already has %d photos", variantID, domain.MaxPhotosPerItem)
	}

	data, err := normalizePhoto(imageData)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, op, err)
	}

	photo := &domain.Photo{ID: uuid.NewString(), VariantID: variantID, Caption: caption}
	photo.StorageKey = photostore.Key(variantID, photo.ID)

	if err := s.photoStg.Save(ctx, photo.StorageKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to save photo: %w", err)
	}
	s.logger.Debug("photo saved", "variant_id", variantID, "storage_key", photo.StorageKey)

	if err := s.photoStore.Add(ctx, photo); err != nil {
		if stgErr := s.photoStg.Delete(ctx, photo.StorageKey); stgErr != nil {
			s.logger.Error("failed to roll back photo file", "storage_key", photo.StorageKey, "error", stgErr)
		}
		return nil, fmt.Errorf("failed to create photo record: %w", err)
	}

	s.logger.Info("add photo complete", "variant_id", variantID, "photo_id", photo.ID)
	return photo, nil
}

// RemovePhoto deletes one photo. The item stays even if it was the last one.
func (s *CollectionService) RemovePhoto(ctx context.Context, photoID string) error {
	photo, err := s.photoStore.Get(ctx, photoID)
	if err != nil {
		return fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return apperr.Newf(apperr.KindNotFound, "remove photo", "photo %s not found", photoID)
	}

	if err := s.photoStore.Delete(ctx, photoID); err != nil {
		return fmt.Errorf("failed to delete photo record: %w", err)
	}
	s.deleteBlobs(ctx, []*domain.Photo{photo})
	return nil
}

func (s *CollectionService) Photos(ctx context.Context, variantID string) ([]*domain.Photo, error) {
	return s.photoStore.ListByVariant(ctx, variantID)
}

// PhotoData returns the stored bytes of a photo.
func (s *CollectionService) PhotoData(ctx context.Context, photoID string) ([]byte, error) {
	photo, err := s.photoStore.Get(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "photo data", "photo %s not found", photoID)
	}

	rc, err := s.photoStg.Get(ctx, photo.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo: %w", err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			s.logger.Error("failed to close photo", "storage_key", photo.StorageKey, "error", err)
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	return data, nil
}

// Reset deletes every item, photo record and photo blob.
func (s *CollectionService) Reset(ctx context.Context) error {
	photos, err := s.photoStore.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete photos: %w", err)
	}
	s.deleteBlobs(ctx, photos)

	if err := s.itemStore.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	s.logger.Warn("collection reset", "photos_removed", len(photos))
	return nil
}

func (s *CollectionService) deleteBlobs(ctx context.Context, photos []*domain.Photo) {
	for _, p := range photos {
		if err := s.photoStg.Delete(ctx, p.StorageKey); err != nil {
			s.logger.Error("failed to delete photo file", "storage_key", p.StorageKey, "error", err)
		}
	}
}

// normalizePhoto checks that data is a supported image and returns it as
// JPEG, re-encoding other formats.
func normalizePhoto(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("photo is empty")
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("photo is not a supported image: %w", err)
	}
	if format == "jpeg" {
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("photo is not a valid jpeg: %w", err)
		}
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("photo is not a supported image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: photoJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode photo: %w", err)
	}
	return buf.Bytes(), nil
}
