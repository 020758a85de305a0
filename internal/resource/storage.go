// Package resource ties a storage driver to the file catalog: every write
// through a Storage keeps the catalog rows in step with the driver.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/catalog"
	"github.com/starford/filedesk/internal/checksum"
	"github.com/starford/filedesk/internal/sniff"
	"github.com/starford/filedesk/internal/storage"
)

// Storage is one configured storage.
type Storage struct {
	uid      int
	name     string
	writable bool
	driver   storage.Driver
	catalog  catalog.Catalog
	logger   *slog.Logger
}

// NewStorage wraps driver as storage uid.
func NewStorage(uid int, name string, writable bool, driver storage.Driver, cat catalog.Catalog, logger *slog.Logger) *Storage {
	return &Storage{
		uid:      uid,
		name:     name,
		writable: writable,
		driver:   driver,
		catalog:  cat,
		logger:   logger.With(slog.Int("storage", uid)),
	}
}

func (s *Storage) UID() int               { return s.uid }
func (s *Storage) Name() string           { return s.name }
func (s *Storage) Writable() bool         { return s.writable }
func (s *Storage) Driver() storage.Driver { return s.driver }

// LocalRoot returns the directory behind a local storage.
func (s *Storage) LocalRoot() (string, bool) {
	if fsd, ok := s.driver.(*storage.FS); ok {
		return fsd.Root(), true
	}
	return "", false
}

func (s *Storage) requireWritable() error {
	if !s.writable {
		return fmt.Errorf("resource: storage %d is read-only: %w", s.uid, apperr.ErrPermissionDenied)
	}
	return nil
}

func (s *Storage) RootFolder() storage.Folder {
	return s.driver.RootFolder()
}

func (s *Storage) HasFolderInFolder(ctx context.Context, name string, parent storage.Folder) (bool, error) {
	return s.driver.HasFolderInFolder(ctx, name, parent)
}

func (s *Storage) GetFolderInFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	return s.driver.GetFolderInFolder(ctx, name, parent)
}

func (s *Storage) CreateFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	if err := s.requireWritable(); err != nil {
		return storage.Folder{}, err
	}
	return s.driver.CreateFolder(ctx, name, parent)
}

// DeleteFolder removes folder and drops the catalog rows of anything below it.
func (s *Storage) DeleteFolder(ctx context.Context, folder storage.Folder, recursive bool) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	if err := s.driver.DeleteFolder(ctx, folder, recursive); err != nil {
		return err
	}
	if _, err := s.catalog.DeleteUnder(s.uid, folder.Identifier); err != nil {
		s.logger.Warn("resource: drop catalog rows failed", slog.String("folder", folder.Identifier), slog.String("error", err.Error()))
	}
	return nil
}

func (s *Storage) FileCount(ctx context.Context, folder storage.Folder) (int, error) {
	return s.driver.FileCount(ctx, folder)
}

func (s *Storage) Subfolders(ctx context.Context, folder storage.Folder) ([]storage.Folder, error) {
	return s.driver.Subfolders(ctx, folder)
}

func (s *Storage) Files(ctx context.Context, folder storage.Folder) ([]storage.FileInfo, error) {
	return s.driver.Files(ctx, folder)
}

// targetName applies behavior to name inside folder. replacing reports
// whether an existing file at the returned name will be overwritten.
func (s *Storage) targetName(ctx context.Context, folder storage.Folder, name string, behavior DuplicationBehavior) (string, bool, error) {
	taken, err := s.driver.HasFile(ctx, folder.FileIdentifier(name))
	if err != nil {
		return "", false, err
	}
	if !taken {
		return name, false, nil
	}
	switch behavior {
	case Cancel:
		return "", false, fmt.Errorf("resource: %s: %w", folder.FileIdentifier(name), apperr.ErrAlreadyExists)
	case Replace:
		return name, true, nil
	default:
		unique, err := uniqueName(ctx, s.driver, folder, name)
		return unique, false, err
	}
}

// AddFile writes r as name inside folder and records it in the catalog.
// Replacing an existing file keeps its uid and metadata.
func (s *Storage) AddFile(ctx context.Context, r io.Reader, folder storage.Folder, name string, behavior DuplicationBehavior) (*catalog.FileRow, error) {
	if err := s.requireWritable(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	name, _, err := s.targetName(ctx, folder, name, behavior)
	if err != nil {
		return nil, err
	}

	mimeType, body, err := sniff.Reader(r)
	if err != nil {
		return nil, fmt.Errorf("resource: read upload: %w", err)
	}
	cr := checksum.NewReader(body)
	info, err := s.driver.Put(ctx, folder, name, cr)
	if err != nil {
		return nil, err
	}

	uid, err := s.catalog.UpsertFile(catalog.FileRow{
		StorageUID: s.uid,
		Identifier: info.Identifier,
		Name:       info.Name,
		Size:       cr.Size(),
		MimeType:   sniff.BaseType(mimeType),
		Extension:  sniff.Extension(info.Name),
		Checksum:   cr.Sum(),
		ModifiedAt: info.ModifiedAt,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("resource: file stored",
		slog.Int64("uid", uid),
		slog.String("identifier", info.Identifier),
		slog.String("size", humanize.Bytes(uint64(cr.Size()))))
	return s.catalog.GetFile(uid)
}

// OpenFile opens the content of a catalogued file.
func (s *Storage) OpenFile(ctx context.Context, row *catalog.FileRow) (io.ReadCloser, error) {
	return s.driver.Open(ctx, row.Identifier)
}

// RenameFile renames a file within its folder.
func (s *Storage) RenameFile(ctx context.Context, row *catalog.FileRow, newName string, behavior DuplicationBehavior) (*catalog.FileRow, error) {
	return s.MoveFile(ctx, row, storage.ParentOf(row.Identifier), newName, behavior)
}

// MoveFile moves a file into target as newName. The uid and metadata of
// the file survive; a file replaced at the target loses both. The replaced
// file is parked under a temporary name until the move has succeeded, so a
// failed move leaves both files where they were.
func (s *Storage) MoveFile(ctx context.Context, row *catalog.FileRow, target storage.Folder, newName string, behavior DuplicationBehavior) (*catalog.FileRow, error) {
	if err := s.requireWritable(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(newName); err != nil {
		return nil, err
	}
	if target.FileIdentifier(newName) == row.Identifier {
		return row, nil
	}
	if ok, err := s.driver.HasFile(ctx, row.Identifier); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("resource: move %s: %w", row.Identifier, apperr.ErrNotFound)
	}

	newName, replacing, err := s.targetName(ctx, target, newName, behavior)
	if err != nil {
		return nil, err
	}
	victim := target.FileIdentifier(newName)
	var parked string
	if replacing {
		info, err := s.driver.Rename(ctx, victim, storage.TempPrefix+uuid.NewString())
		if err != nil {
			return nil, err
		}
		parked = info.Identifier
	}

	info, err := s.driver.Move(ctx, row.Identifier, target, newName)
	if err != nil {
		if parked != "" {
			if _, rerr := s.driver.Rename(ctx, parked, newName); rerr != nil {
				s.logger.Error("resource: restore replaced file failed",
					slog.String("identifier", victim),
					slog.String("parked", parked),
					slog.String("error", rerr.Error()))
			}
		}
		return nil, err
	}
	if parked != "" {
		if err := s.driver.Delete(ctx, parked); err != nil {
			s.logger.Warn("resource: delete replaced file failed",
				slog.String("parked", parked),
				slog.String("error", err.Error()))
		}
		if _, err := s.catalog.DeleteByIdentifier(s.uid, victim); err != nil {
			return nil, err
		}
	}
	if err := s.catalog.UpdateLocation(row.UID, info.Identifier, info.Name, sniff.Extension(info.Name), info.ModifiedAt); err != nil {
		return nil, err
	}
	s.logger.Info("resource: file moved",
		slog.Int64("uid", row.UID),
		slog.String("from", row.Identifier),
		slog.String("to", info.Identifier))
	return s.catalog.GetFile(row.UID)
}

// DeleteFile removes a file and its catalog row. A file already gone from
// the driver only loses its row.
func (s *Storage) DeleteFile(ctx context.Context, row *catalog.FileRow) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	if err := s.driver.Delete(ctx, row.Identifier); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err := s.catalog.DeleteFile(row.UID); err != nil {
		return err
	}
	s.logger.Info("resource: file deleted", slog.Int64("uid", row.UID), slog.String("identifier", row.Identifier))
	return nil
}
