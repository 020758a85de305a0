package foldertree

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

// PruneUpward deletes folder and then each ancestor for as long as the
// folder being looked at holds no files and no subfolders. The root is never
// deleted.
//
// Pruning is best effort: the first error from the tree ends the walk and is
// only logged, so callers never see it.
func PruneUpward(ctx context.Context, tree Tree, folder storage.Folder, logger *slog.Logger) {
	current := folder
	for !current.IsRoot() {
		if !removeIfEmpty(ctx, tree, current, logger) {
			return
		}
		parent, ok := current.Parent()
		if !ok {
			return
		}
		current = parent
	}
}

// PruneCreated undoes ResolveCreated: it removes the created folders
// deepest first and stops at the first one that is not empty. Folders that
// existed before are never touched.
func PruneCreated(ctx context.Context, tree Tree, created []storage.Folder, logger *slog.Logger) {
	for i := len(created) - 1; i >= 0; i-- {
		if created[i].IsRoot() || !removeIfEmpty(ctx, tree, created[i], logger) {
			return
		}
	}
}

// removeIfEmpty deletes folder when it has no files and no subfolders and
// reports whether it is gone. A folder that vanished on its own, as an S3
// prefix does with its last object, counts as removed.
func removeIfEmpty(ctx context.Context, tree Tree, folder storage.Folder, logger *slog.Logger) bool {
	files, err := tree.FileCount(ctx, folder)
	if err != nil {
		logger.Debug("prune: file count failed", slog.String("folder", folder.Identifier), slog.String("error", err.Error()))
		return false
	}
	if files > 0 {
		return false
	}
	subs, err := tree.Subfolders(ctx, folder)
	if err != nil {
		logger.Debug("prune: list subfolders failed", slog.String("folder", folder.Identifier), slog.String("error", err.Error()))
		return false
	}
	if len(subs) > 0 {
		return false
	}

	err = tree.DeleteFolder(ctx, folder, true)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		logger.Debug("prune: folder already gone", slog.String("folder", folder.Identifier))
	case err != nil:
		logger.Debug("prune: delete failed", slog.String("folder", folder.Identifier), slog.String("error", err.Error()))
		return false
	default:
		logger.Debug("prune: removed empty folder", slog.String("folder", folder.Identifier))
	}
	return true
}
