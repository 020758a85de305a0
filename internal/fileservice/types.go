package fileservice

import (
	"io"
	"time"

	"github.com/starford/filedesk/internal/catalog"
)

// FileDetail is the full representation of a catalogued file.
type FileDetail struct {
	UID        int64            `json:"uid"`
	Identifier string           `json:"identifier"`
	Name       string           `json:"name"`
	Size       int64            `json:"size"`
	MimeType   string           `json:"mimeType"`
	Extension  string           `json:"extension"`
	StorageUID int              `json:"storageUid"`
	Checksum   string           `json:"checksum"`
	CreatedAt  time.Time        `json:"createdAt"`
	ModifiedAt time.Time        `json:"modifiedAt"`
	Metadata   catalog.Metadata `json:"metadata"`
}

// UploadInput describes a new file. FileName wins over ClientName; when
// both are empty the file is called "unnamed".
type UploadInput struct {
	StorageUID int
	TargetPath string
	FileName   string
	ClientName string
	Reader     io.Reader
}

// RenameResult is returned by Rename.
type RenameResult struct {
	UID          int64     `json:"uid"`
	Identifier   string    `json:"identifier"`
	Name         string    `json:"name"`
	PreviousName string    `json:"previousName"`
	ModifiedAt   time.Time `json:"modifiedAt"`
}

// MoveInput describes a move. An empty NewFileName keeps the current name.
type MoveInput struct {
	TargetPath       string
	NewFileName      string
	ConflictStrategy string
}

// MoveResult is returned by Move.
type MoveResult struct {
	UID          int64     `json:"uid"`
	Identifier   string    `json:"identifier"`
	Name         string    `json:"name"`
	PreviousPath string    `json:"previousPath"`
	ModifiedAt   time.Time `json:"modifiedAt"`
}

// FolderEntry is a file inside a listed folder. UID is zero for files the
// catalog has not picked up yet.
type FolderEntry struct {
	UID        int64     `json:"uid,omitempty"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// FolderListing is the content of one folder.
type FolderListing struct {
	StorageUID int           `json:"storageUid"`
	Identifier string        `json:"identifier"`
	Folders    []string      `json:"folders"`
	Files      []FolderEntry `json:"files"`
}

// StorageInfo summarises a configured storage.
type StorageInfo struct {
	UID      int    `json:"uid"`
	Name     string `json:"name"`
	Writable bool   `json:"writable"`
}

func toDetail(row *catalog.FileRow, meta catalog.Metadata) *FileDetail {
	return &FileDetail{
		UID:        row.UID,
		Identifier: row.Identifier,
		Name:       row.Name,
		Size:       row.Size,
		MimeType:   row.MimeType,
		Extension:  row.Extension,
		StorageUID: row.StorageUID,
		Checksum:   row.Checksum,
		CreatedAt:  row.CreatedAt,
		ModifiedAt: row.ModifiedAt,
		Metadata:   meta,
	}
}
