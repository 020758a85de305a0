// Package foldertree materializes folder paths inside a storage and prunes
// folders left empty after a file is deleted or moved away.
package foldertree

import (
	"context"
	"strings"

	"github.com/starford/filedesk/internal/storage"
)

// Tree is the folder capability Resolve and PruneUpward work against.
type Tree interface {
	RootFolder() storage.Folder
	HasFolderInFolder(ctx context.Context, name string, parent storage.Folder) (bool, error)
	GetFolderInFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error)
	CreateFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error)
	DeleteFolder(ctx context.Context, folder storage.Folder, recursive bool) error
	FileCount(ctx context.Context, folder storage.Folder) (int, error)
	Subfolders(ctx context.Context, folder storage.Folder) ([]storage.Folder, error)
}

// Segments splits path on "/" and drops empty components, so leading,
// trailing and repeated slashes are ignored.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
