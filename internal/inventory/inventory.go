// Package inventory persists committed items and their thumbnails.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vbonduro/aptinv/internal/commit"
	"github.com/vbonduro/aptinv/internal/domain"
	"github.com/vbonduro/aptinv/internal/photostore"
	"github.com/vbonduro/aptinv/internal/upload"
)

var ErrNotFound = errors.New("item not found")

// itemRepository is the subset of store.ItemStore that Service requires.
type itemRepository interface {
	Create(ctx context.Context, in domain.NewItem) (*domain.Item, error)
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	List(ctx context.Context) ([]*domain.Item, error)
	ListNames(ctx context.Context) ([]string, error)
	Search(ctx context.Context, query string) ([]*domain.Item, error)
	Delete(ctx context.Context, id int64) error
}

// photoRepository is the subset of store.PhotoStore that Service requires.
type photoRepository interface {
	Create(ctx context.Context, storageKey, mimeType string) (*domain.Photo, error)
	GetByID(ctx context.Context, id int64) (*domain.Photo, error)
	Delete(ctx context.Context, id int64) error
}

type Service struct {
	items    itemRepository
	photos   photoRepository
	photoStg photostore.PhotoStore
	logger   *slog.Logger
}

func NewService(items itemRepository, photos photoRepository, photoStg photostore.PhotoStore, logger *slog.Logger) *Service {
	return &Service{
		items:    items,
		photos:   photos,
		photoStg: photoStg,
		logger:   logger,
	}
}

// CreateInventoryItem stores the thumbnail, then the item row. A thumbnail
// that cannot be stored is dropped and the item saved without one; a row that
// cannot be inserted rolls the thumbnail back.
func (s *Service) CreateInventoryItem(ctx context.Context, f commit.ItemFields) commit.CreateResult {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return commit.CreateResult{Error: "name is required"}
	}

	photo := s.savePhoto(ctx, f.Photo, f.SourceRegionID)
	var photoID *int64
	if photo != nil {
		photoID = &photo.ID
	}

	item, err := s.items.Create(ctx, domain.NewItem{
		Name:           name,
		Description:    strings.TrimSpace(f.Description),
		Category:       strings.TrimSpace(f.Category),
		Condition:      f.Condition,
		Notes:          f.Notes,
		PhotoID:        photoID,
		SourceRegionID: f.SourceRegionID,
	})
	if err != nil {
		s.logger.Error("create item failed", "name", name, "region_id", f.SourceRegionID, "error", err)
		if photo != nil {
			s.removePhoto(ctx, photo)
		}
		return commit.CreateResult{Error: err.Error()}
	}

	s.logger.Info("item created", "item_id", item.ID, "name", item.Name, "photo_id", photoID)
	return commit.CreateResult{Success: true, ID: strconv.FormatInt(item.ID, 10)}
}

func (s *Service) savePhoto(ctx context.Context, data []byte, regionID string) *domain.Photo {
	if len(data) == 0 {
		return nil
	}
	mimeType, ok := upload.AllowedImageMIME(data)
	if !ok {
		s.logger.Warn("thumbnail has unsupported format, saving item without photo", "region_id", regionID)
		return nil
	}

	storageKey, err := s.photoStg.Save(ctx, "item", mimeType, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("failed to save thumbnail, saving item without photo", "region_id", regionID, "error", err)
		return nil
	}

	photo, err := s.photos.Create(ctx, storageKey, mimeType)
	if err != nil {
		s.logger.Warn("failed to create photo record, saving item without photo", "region_id", regionID, "error", err)
		if derr := s.photoStg.Delete(ctx, storageKey); derr != nil {
			s.logger.Error("failed to remove orphaned thumbnail", "storage_key", storageKey, "error", derr)
		}
		return nil
	}
	return photo
}

func (s *Service) removePhoto(ctx context.Context, photo *domain.Photo) {
	if err := s.photos.Delete(ctx, photo.ID); err != nil {
		s.logger.Error("failed to roll back photo record", "photo_id", photo.ID, "error", err)
	}
	if err := s.photoStg.Delete(ctx, photo.StorageKey); err != nil {
		s.logger.Error("failed to roll back thumbnail", "storage_key", photo.StorageKey, "error", err)
	}
}

// ExistingLabels lists the names already in the inventory for deduplication.
func (s *Service) ExistingLabels(ctx context.Context) ([]string, error) {
	return s.items.ListNames(ctx)
}

// ListItems returns all items, or those matching query when it is non-empty.
func (s *Service) ListItems(ctx context.Context, query string) ([]*domain.Item, error) {
	if strings.TrimSpace(query) != "" {
		return s.items.Search(ctx, query)
	}
	return s.items.List(ctx)
}

func (s *Service) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return item, nil
}

// ItemPhoto opens the thumbnail of an item. The caller must close the reader.
func (s *Service) ItemPhoto(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if item.PhotoID == nil {
		return nil, "", fmt.Errorf("item %d has no photo: %w", id, photostore.ErrNotFound)
	}
	photo, err := s.photos.GetByID(ctx, *item.PhotoID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return nil, "", fmt.Errorf("photo %d: %w", *item.PhotoID, photostore.ErrNotFound)
	}
	rc, _, err := s.photoStg.Get(ctx, photo.StorageKey)
	if err != nil {
		return nil, "", err
	}
	return rc, photo.MimeType, nil
}

// DeleteItem removes an item together with its thumbnail.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.items.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if item.PhotoID == nil {
		return nil
	}
	photo, err := s.photos.GetByID(ctx, *item.PhotoID)
	if err != nil || photo == nil {
		s.logger.Warn("photo record missing for deleted item", "item_id", id, "photo_id", *item.PhotoID, "error", err)
		return nil
	}
	s.removePhoto(ctx, photo)
	return nil
}
