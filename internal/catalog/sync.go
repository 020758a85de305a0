package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/starford/filedesk/internal/checksum"
	"github.com/starford/filedesk/internal/sniff"
	"github.com/starford/filedesk/internal/storage"
)

// EventCallback is called after a catalog change caused by the storage
// itself rather than the API. kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, uid int64, identifier string)

// Sync walks a storage and brings its catalog rows up to date:
//   - new files are sniffed, hashed and inserted
//   - files whose size or modification time changed are re-hashed
//   - rows whose file is gone are deleted
func Sync(ctx context.Context, db *DB, storageUID int, driver storage.Driver, logger *slog.Logger) error {
	return reconcile(ctx, db, storageUID, driver, logger, nil)
}

func reconcile(ctx context.Context, db *DB, storageUID int, driver storage.Driver, logger *slog.Logger, cb EventCallback) error {
	files, err := Walk(ctx, driver, driver.RootFolder())
	if err != nil {
		return err
	}

	known, err := db.AllFiles(storageUID)
	if err != nil {
		return err
	}

	var indexed int
	var bytes int64
	for _, info := range files {
		row, ok := known[info.Identifier]
		delete(known, info.Identifier)
		if ok && row.Size == info.Size && row.ModifiedAt.Equal(info.ModifiedAt) {
			continue
		}

		uid, err := indexFile(ctx, db, storageUID, driver, info)
		if err != nil {
			logger.Warn("sync: index failed",
				slog.Int("storage", storageUID),
				slog.String("identifier", info.Identifier),
				slog.String("error", err.Error()))
			continue
		}
		indexed++
		bytes += info.Size
		logger.Debug("sync: indexed", slog.Int("storage", storageUID), slog.String("identifier", info.Identifier))
		if cb != nil {
			kind := "created"
			if ok {
				kind = "updated"
			}
			cb(kind, uid, info.Identifier)
		}
	}

	// Whatever is left in known has no file behind it.
	for identifier, row := range known {
		if err := db.DeleteFile(row.UID); err != nil {
			logger.Warn("sync: delete failed", slog.String("identifier", identifier), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.Int("storage", storageUID), slog.String("identifier", identifier))
		if cb != nil {
			cb("deleted", row.UID, identifier)
		}
	}

	if indexed > 0 || len(known) > 0 {
		logger.Info("sync: storage reconciled",
			slog.Int("storage", storageUID),
			slog.Int("indexed", indexed),
			slog.String("indexed_size", humanize.Bytes(uint64(bytes))),
			slog.Int("removed", len(known)))
	}
	return nil
}

// Walk returns every file below folder, depth first.
func Walk(ctx context.Context, driver storage.Driver, folder storage.Folder) ([]storage.FileInfo, error) {
	var out []storage.FileInfo
	pending := []storage.Folder{folder}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		files, err := driver.Files(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("catalog: list files in %s: %w", current.Identifier, err)
		}
		out = append(out, files...)

		subs, err := driver.Subfolders(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("catalog: list folders in %s: %w", current.Identifier, err)
		}
		pending = append(pending, subs...)
	}
	return out, nil
}

// indexFile sniffs and hashes the content of info and upserts its row.
func indexFile(ctx context.Context, db *DB, storageUID int, driver storage.Driver, info storage.FileInfo) (int64, error) {
	rc, err := driver.Open(ctx, info.Identifier)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	mimeType, r, err := sniff.Reader(rc)
	if err != nil {
		return 0, err
	}
	sum, size, err := checksum.SumReader(r)
	if err != nil {
		return 0, err
	}

	return db.UpsertFile(FileRow{
		StorageUID: storageUID,
		Identifier: info.Identifier,
		Name:       info.Name,
		Size:       size,
		MimeType:   sniff.BaseType(mimeType),
		Extension:  sniff.Extension(info.Name),
		Checksum:   sum,
		ModifiedAt: info.ModifiedAt,
	})
}
