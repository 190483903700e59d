// Package filestore keeps element images, signer certificates and user
// pictures in the database, with draft areas for staged uploads.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// Store is a gorm-backed file store
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a new file store
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// conn returns tx when the caller runs inside a transaction
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// NormalizePath returns a clean "/dir/" style file path
func NormalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return cleaned
	}
	return cleaned + "/"
}

func sniff(content []byte, mime string) string {
	if mime != "" {
		return mime
	}
	return http.DetectContentType(content)
}

// Put stores content under ref, replacing any file with the same key
func (s *Store) Put(ctx context.Context, tx *gorm.DB, ref models.FileRef, content []byte, mime string) (*models.StoredFile, error) {
	if ref.Filename == "" {
		return nil, apperr.Invalid("filename", "required")
	}
	ref.FilePath = NormalizePath(ref.FilePath)
	db := s.conn(ctx, tx)

	if err := keyScope(db.Where("draft_key IS NULL"), ref).Delete(&models.StoredFile{}).Error; err != nil {
		return nil, fmt.Errorf("failed to replace file: %w", err)
	}

	file := &models.StoredFile{
		ContextID:   ref.ContextID,
		Area:        ref.Area,
		ItemID:      ref.ItemID,
		FilePath:    ref.FilePath,
		Filename:    ref.Filename,
		MimeType:    sniff(content, mime),
		Size:        int64(len(content)),
		ContentHash: models.HashContent(content),
		Content:     content,
	}
	if err := db.Create(file).Error; err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	s.logger.Debug("file stored",
		zap.String("area", ref.Area),
		zap.Uint64("item_id", ref.ItemID),
		zap.String("filename", ref.Filename))

	return file, nil
}

func keyScope(db *gorm.DB, ref models.FileRef) *gorm.DB {
	return db.Where("context_id = ? AND area = ? AND item_id = ? AND file_path = ? AND filename = ?",
		ref.ContextID, ref.Area, ref.ItemID, NormalizePath(ref.FilePath), ref.Filename)
}

// Get returns the committed file at ref
func (s *Store) Get(ctx context.Context, ref models.FileRef) (*models.StoredFile, error) {
	var file models.StoredFile
	err := keyScope(s.db.WithContext(ctx).Where("draft_key IS NULL"), ref).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("file")
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// GetByID returns a file by id
func (s *Store) GetByID(ctx context.Context, id uint64) (*models.StoredFile, error) {
	var file models.StoredFile
	if err := s.db.WithContext(ctx).First(&file, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("file")
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// List returns the committed files of an area item, ordered by path and name
func (s *Store) List(ctx context.Context, contextID uint64, area string, itemID uint64) ([]models.StoredFile, error) {
	var files []models.StoredFile
	err := s.db.WithContext(ctx).
		Where("context_id = ? AND area = ? AND item_id = ? AND draft_key IS NULL", contextID, area, itemID).
		Order("file_path ASC, filename ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// ListArea returns every committed file of an area regardless of item
func (s *Store) ListArea(ctx context.Context, contextID uint64, area string) ([]models.StoredFile, error) {
	var files []models.StoredFile
	err := s.db.WithContext(ctx).
		Where("context_id = ? AND area = ? AND draft_key IS NULL", contextID, area).
		Order("filename ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// DeleteArea removes every committed file of an area item
func (s *Store) DeleteArea(ctx context.Context, tx *gorm.DB, contextID uint64, area string, itemID uint64) error {
	err := s.conn(ctx, tx).
		Where("context_id = ? AND area = ? AND item_id = ? AND draft_key IS NULL", contextID, area, itemID).
		Delete(&models.StoredFile{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

// CopyArea duplicates the files of an area item onto another item of the same area
func (s *Store) CopyArea(ctx context.Context, tx *gorm.DB, contextID uint64, area string, fromItem, toItem uint64) (int, error) {
	db := s.conn(ctx, tx)

	var files []models.StoredFile
	if err := db.Where("context_id = ? AND area = ? AND item_id = ? AND draft_key IS NULL", contextID, area, fromItem).
		Find(&files).Error; err != nil {
		return 0, fmt.Errorf("failed to read files: %w", err)
	}

	for _, f := range files {
		cp := f
		cp.ID = 0
		cp.ItemID = toItem
		if err := db.Create(&cp).Error; err != nil {
			return 0, fmt.Errorf("failed to copy file: %w", err)
		}
	}

	return len(files), nil
}

// NewDraft returns a fresh draft key
func (s *Store) NewDraft() string {
	return uuid.New().String()
}

// PutDraft stages a file under draftKey
func (s *Store) PutDraft(ctx context.Context, draftKey, filename string, content []byte, mime string) (*models.StoredFile, error) {
	if _, err := uuid.Parse(draftKey); err != nil {
		return nil, apperr.Invalid("draft_key", "invalid draft key")
	}
	if filename == "" {
		return nil, apperr.Invalid("filename", "required")
	}
	db := s.db.WithContext(ctx)

	if err := db.Where("draft_key = ? AND filename = ?", draftKey, filename).Delete(&models.StoredFile{}).Error; err != nil {
		return nil, fmt.Errorf("failed to replace draft file: %w", err)
	}

	key := draftKey
	file := &models.StoredFile{
		Area:        models.FileAreaDraft,
		FilePath:    "/",
		Filename:    filename,
		MimeType:    sniff(content, mime),
		Size:        int64(len(content)),
		ContentHash: models.HashContent(content),
		Content:     content,
		DraftKey:    &key,
	}
	if err := db.Create(file).Error; err != nil {
		return nil, fmt.Errorf("failed to store draft file: %w", err)
	}
	return file, nil
}

// ListDraft returns the files staged under draftKey
func (s *Store) ListDraft(ctx context.Context, tx *gorm.DB, draftKey string) ([]models.StoredFile, error) {
	var files []models.StoredFile
	if err := s.conn(ctx, tx).Where("draft_key = ?", draftKey).Order("filename ASC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list draft files: %w", err)
	}
	return files, nil
}

// CommitDraft moves the files staged under draftKey into an area item,
// replacing what the item held. It runs in the caller's transaction so
// the files appear together with the owning record. An empty draft
// leaves the area untouched.
func (s *Store) CommitDraft(ctx context.Context, tx *gorm.DB, draftKey string, contextID uint64, area string, itemID uint64) ([]models.StoredFile, error) {
	if draftKey == "" {
		return nil, nil
	}
	db := s.conn(ctx, tx)

	staged, err := s.ListDraft(ctx, tx, draftKey)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, nil
	}

	if err := s.DeleteArea(ctx, tx, contextID, area, itemID); err != nil {
		return nil, err
	}

	committed := make([]models.StoredFile, 0, len(staged))
	for _, f := range staged {
		updates := map[string]interface{}{
			"context_id": contextID,
			"area":       area,
			"item_id":    itemID,
			"draft_key":  nil,
		}
		if err := db.Model(&models.StoredFile{}).Where("id = ?", f.ID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to commit draft file: %w", err)
		}
		f.ContextID, f.Area, f.ItemID, f.DraftKey = contextID, area, itemID, nil
		committed = append(committed, f)
	}

	s.logger.Debug("draft committed",
		zap.String("area", area),
		zap.Uint64("item_id", itemID),
		zap.Int("files", len(committed)))

	return committed, nil
}
