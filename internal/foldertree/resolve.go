package foldertree

import (
	"context"
	"fmt"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

// Resolve returns the folder at path, creating every missing segment below
// the root. An empty path (or one made only of slashes) yields the root.
//
// Errors from the tree are returned wrapped with the failing segment; no
// partial result is returned.
func Resolve(ctx context.Context, tree Tree, path string) (storage.Folder, error) {
	folder, _, err := ResolveCreated(ctx, tree, path)
	if err != nil {
		return storage.Folder{}, err
	}
	return folder, nil
}

// ResolveCreated is Resolve that also returns the folders it created,
// shallowest first. On error the folders created before the failure are
// still returned so the caller can remove them with PruneCreated.
func ResolveCreated(ctx context.Context, tree Tree, path string) (storage.Folder, []storage.Folder, error) {
	current := tree.RootFolder()
	var created []storage.Folder
	for _, segment := range Segments(path) {
		exists, err := tree.HasFolderInFolder(ctx, segment, current)
		if err != nil {
			return storage.Folder{}, created, fmt.Errorf("foldertree: lookup %q in %s: %w", segment, current.Identifier, err)
		}
		var next storage.Folder
		if exists {
			next, err = tree.GetFolderInFolder(ctx, segment, current)
		} else {
			next, err = tree.CreateFolder(ctx, segment, current)
		}
		if err != nil {
			return storage.Folder{}, created, fmt.Errorf("foldertree: resolve %q in %s: %w", segment, current.Identifier, err)
		}
		if !exists {
			created = append(created, next)
		}
		current = next
	}
	return current, created, nil
}

// Lookup returns the folder at path without creating anything. A missing
// segment yields apperr.ErrFolderNotFound.
func Lookup(ctx context.Context, tree Tree, path string) (storage.Folder, error) {
	current := tree.RootFolder()
	for _, segment := range Segments(path) {
		exists, err := tree.HasFolderInFolder(ctx, segment, current)
		if err != nil {
			return storage.Folder{}, fmt.Errorf("foldertree: lookup %q in %s: %w", segment, current.Identifier, err)
		}
		if !exists {
			return storage.Folder{}, fmt.Errorf("foldertree: %s%s: %w", current.Identifier, segment, apperr.ErrFolderNotFound)
		}
		if current, err = tree.GetFolderInFolder(ctx, segment, current); err != nil {
			return storage.Folder{}, err
		}
	}
	return current, nil
}
