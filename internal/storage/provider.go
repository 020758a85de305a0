// Package storage defines the folder/file abstraction every storage driver implements.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/starford/filedesk/internal/apperr"
)

// Folder is a directory-like node inside a storage.
//
// Identifier is absolute and slash-delimited with a trailing slash
// ("/a/b/"); the root folder is "/".
type Folder struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// RootFolder returns the root folder of any storage.
func RootFolder() Folder {
	return Folder{Identifier: "/"}
}

// IsRoot reports whether f is the storage root.
func (f Folder) IsRoot() bool {
	return f.Identifier == "/" || f.Identifier == ""
}

// Parent returns the parent folder. The root has no parent.
func (f Folder) Parent() (Folder, bool) {
	if f.IsRoot() {
		return Folder{}, false
	}
	return ParentOf(strings.TrimSuffix(f.Identifier, "/")), true
}

// Child returns the folder named name directly below f.
func (f Folder) Child(name string) Folder {
	return Folder{Identifier: f.Identifier + name + "/", Name: name}
}

// FileIdentifier returns the identifier of a file named name inside f.
func (f Folder) FileIdentifier(name string) string {
	return f.Identifier + name
}

// FolderAt builds the folder for an identifier such as "/a/b/" or "a/b".
func FolderAt(identifier string) Folder {
	var parts []string
	for _, s := range strings.Split(identifier, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return RootFolder()
	}
	return Folder{Identifier: "/" + strings.Join(parts, "/") + "/", Name: parts[len(parts)-1]}
}

// ParentOf returns the folder containing the file or folder identifier.
func ParentOf(identifier string) Folder {
	trimmed := strings.Trim(identifier, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return RootFolder()
	}
	return FolderAt(trimmed[:i])
}

// BaseName returns the last segment of a file identifier.
func BaseName(identifier string) string {
	trimmed := strings.TrimSuffix(identifier, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// FileInfo describes a file as reported by a driver.
type FileInfo struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Driver is the interface every storage backend implements.
//
// Folder operations mirror the capability used by path materialization and
// pruning; file operations address files by identifier ("/a/b/report.pdf").
type Driver interface {
	// RootFolder returns the folder all identifiers are relative to.
	RootFolder() Folder
	// HasFolderInFolder reports whether a child folder called name exists.
	HasFolderInFolder(ctx context.Context, name string, parent Folder) (bool, error)
	// GetFolderInFolder returns the child folder called name.
	GetFolderInFolder(ctx context.Context, name string, parent Folder) (Folder, error)
	// CreateFolder creates a child folder. A file with the same name yields apperr.ErrFolderConflict.
	CreateFolder(ctx context.Context, name string, parent Folder) (Folder, error)
	// DeleteFolder removes a folder; non-recursive deletion of a non-empty folder fails.
	DeleteFolder(ctx context.Context, folder Folder, recursive bool) error
	// FileCount returns the number of files directly inside folder.
	FileCount(ctx context.Context, folder Folder) (int, error)
	// Subfolders returns the folders directly inside folder.
	Subfolders(ctx context.Context, folder Folder) ([]Folder, error)
	// Files returns the files directly inside folder.
	Files(ctx context.Context, folder Folder) ([]FileInfo, error)

	HasFile(ctx context.Context, identifier string) (bool, error)
	Stat(ctx context.Context, identifier string) (FileInfo, error)
	Open(ctx context.Context, identifier string) (io.ReadCloser, error)
	// Put writes r as name inside folder, replacing any existing file.
	Put(ctx context.Context, folder Folder, name string, r io.Reader) (FileInfo, error)
	// Rename fails with apperr.ErrAlreadyExists if the new name is taken.
	Rename(ctx context.Context, identifier, newName string) (FileInfo, error)
	// Move fails with apperr.ErrAlreadyExists if target already holds newName.
	Move(ctx context.Context, identifier string, target Folder, newName string) (FileInfo, error)
	Delete(ctx context.Context, identifier string) error
}

// ValidateName rejects names that cannot be a single path segment.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("storage: empty name: %w", apperr.ErrInvalidArgument)
	case name == "." || name == "..":
		return fmt.Errorf("storage: relative name %q: %w", name, apperr.ErrInvalidArgument)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("storage: invalid name %q: %w", name, apperr.ErrInvalidArgument)
	}
	return nil
}
