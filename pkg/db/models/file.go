package models

import "time"

// File areas used by the certificate service
const (
	FileAreaImage       = "image"
	FileAreaSignature   = "signature"
	FileAreaElement     = "element"
	FileAreaElementAux  = "elementaux"
	FileAreaUserPicture = "userpicture"
	FileAreaDraft       = "draft"
)

// StoredFile is a blob addressed by (context, area, item, path, filename).
// Draft files carry a DraftKey until they are committed to their owner.
type StoredFile struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ContextID   uint64    `gorm:"not null;default:0;index:idx_file_owner" json:"context_id"`
	Area        string    `gorm:"size:50;not null;index:idx_file_owner" json:"area"`
	ItemID      uint64    `gorm:"not null;default:0;index:idx_file_owner" json:"item_id"`
	FilePath    string    `gorm:"size:255;not null;default:'/'" json:"file_path"`
	Filename    string    `gorm:"size:255;not null" json:"filename"`
	MimeType    string    `gorm:"size:100" json:"mime_type"`
	Size        int64     `json:"size"`
	ContentHash string    `gorm:"size:64" json:"content_hash"`
	Content     []byte    `json:"-"`
	DraftKey    *string   `gorm:"size:36;index" json:"draft_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the table name for StoredFile
func (StoredFile) TableName() string {
	return "stored_files"
}

// FileRef returns the logical key of the file
func (f *StoredFile) FileRef() FileRef {
	return FileRef{
		ContextID: f.ContextID,
		Area:      f.Area,
		ItemID:    f.ItemID,
		FilePath:  f.FilePath,
		Filename:  f.Filename,
	}
}

// FileRef identifies a stored file by its logical key
type FileRef struct {
	ContextID uint64 `json:"contextid"`
	Area      string `json:"filearea"`
	ItemID    uint64 `json:"itemid"`
	FilePath  string `json:"filepath"`
	Filename  string `json:"filename"`
}

// IsZero reports whether the reference names no file
func (r FileRef) IsZero() bool {
	return r.Filename == ""
}
