// Package fileservice implements the file use cases shared by the REST API
// and the MCP server: upload, fetch, rename, move, delete and metadata
// updates, with folder materialization before writes and pruning of emptied
// folders after deletes and moves.
package fileservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/catalog"
	"github.com/starford/filedesk/internal/foldertree"
	"github.com/starford/filedesk/internal/resource"
	"github.com/starford/filedesk/internal/storage"
)

// Publisher receives a notification after every successful mutation.
type Publisher interface {
	PublishFileEvent(kind string, storageUID int, uid int64, identifier string)
}

// Service coordinates storages and the catalog.
type Service struct {
	files  *resource.Factory
	events Publisher
	logger *slog.Logger
}

// NewService creates a file service. events may be nil.
func NewService(files *resource.Factory, events Publisher, logger *slog.Logger) *Service {
	return &Service{files: files, events: events, logger: logger}
}

func (s *Service) publish(kind string, row *catalog.FileRow) {
	if s.events == nil {
		return
	}
	s.events.PublishFileEvent(kind, row.StorageUID, row.UID, row.Identifier)
}

func (s *Service) detail(row *catalog.FileRow) (*FileDetail, error) {
	meta, err := s.files.Catalog().GetMetadata(row.UID)
	if err != nil {
		return nil, err
	}
	return toDetail(row, meta), nil
}

// Storages lists the configured storages.
func (s *Service) Storages() []StorageInfo {
	all := s.files.Storages()
	out := make([]StorageInfo, len(all))
	for i, st := range all {
		out[i] = StorageInfo{UID: st.UID(), Name: st.Name(), Writable: st.Writable()}
	}
	return out
}

// Upload stores in.Reader below in.TargetPath, creating missing folders.
// An existing file with the same name is replaced and keeps its uid.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*FileDetail, error) {
	if in.Reader == nil {
		return nil, fmt.Errorf("no file uploaded: %w", apperr.ErrInvalidArgument)
	}
	if in.TargetPath == "" {
		return nil, fmt.Errorf("targetPath is required: %w", apperr.ErrInvalidArgument)
	}
	st, err := s.files.Storage(in.StorageUID)
	if err != nil {
		return nil, err
	}
	folder, err := foldertree.Resolve(ctx, st, in.TargetPath)
	if err != nil {
		return nil, err
	}

	name := in.FileName
	if name == "" {
		name = in.ClientName
	}
	if name == "" {
		name = "unnamed"
	}

	kind := "created"
	if _, err := s.files.Catalog().FindFile(st.UID(), folder.FileIdentifier(name)); err == nil {
		kind = "updated"
	}

	row, err := st.AddFile(ctx, in.Reader, folder, name, resource.Replace)
	if err != nil {
		return nil, err
	}
	s.publish(kind, row)
	return s.detail(row)
}

// Get returns a file by uid.
func (s *Service) Get(_ context.Context, uid int64) (*FileDetail, error) {
	row, _, err := s.files.File(uid)
	if err != nil {
		return nil, err
	}
	return s.detail(row)
}

// Open returns the content of a file. The caller closes the reader.
func (s *Service) Open(ctx context.Context, uid int64) (io.ReadCloser, *FileDetail, error) {
	row, st, err := s.files.File(uid)
	if err != nil {
		return nil, nil, err
	}
	rc, err := st.OpenFile(ctx, row)
	if err != nil {
		return nil, nil, err
	}
	return rc, toDetail(row, catalog.Metadata{}), nil
}

// Delete removes a file and prunes the folders it leaves empty.
func (s *Service) Delete(ctx context.Context, uid int64) error {
	row, st, err := s.files.File(uid)
	if err != nil {
		return err
	}
	parent := storage.ParentOf(row.Identifier)
	if err := st.DeleteFile(ctx, row); err != nil {
		return err
	}
	foldertree.PruneUpward(ctx, st, parent, s.logger)
	s.publish("deleted", row)
	return nil
}

// Rename gives a file a new name inside its folder. strategy is one of
// REPLACE, RENAME or CANCEL and defaults to RENAME.
func (s *Service) Rename(ctx context.Context, uid int64, newName, strategy string) (*RenameResult, error) {
	if newName == "" {
		return nil, fmt.Errorf("newFileName is required: %w", apperr.ErrInvalidArgument)
	}
	row, st, err := s.files.File(uid)
	if err != nil {
		return nil, err
	}
	renamed, err := st.RenameFile(ctx, row, newName, resource.ParseBehavior(strategy, resource.Rename))
	if err != nil {
		return nil, err
	}
	if renamed.Identifier != row.Identifier {
		s.publish("renamed", renamed)
	}
	return &RenameResult{
		UID:          renamed.UID,
		Identifier:   renamed.Identifier,
		Name:         renamed.Name,
		PreviousName: row.Name,
		ModifiedAt:   renamed.ModifiedAt,
	}, nil
}

// Move moves a file below in.TargetPath, creating missing folders, and
// prunes the folders it leaves empty. The conflict strategy defaults to
// REPLACE.
func (s *Service) Move(ctx context.Context, uid int64, in MoveInput) (*MoveResult, error) {
	if in.TargetPath == "" {
		return nil, fmt.Errorf("targetPath is required: %w", apperr.ErrInvalidArgument)
	}
	row, st, err := s.files.File(uid)
	if err != nil {
		return nil, err
	}
	name := in.NewFileName
	if name == "" {
		name = row.Name
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	oldParent := storage.ParentOf(row.Identifier)

	target, created, err := foldertree.ResolveCreated(ctx, st, in.TargetPath)
	if err != nil {
		foldertree.PruneCreated(ctx, st, created, s.logger)
		return nil, err
	}
	moved, err := st.MoveFile(ctx, row, target, name, resource.ParseBehavior(in.ConflictStrategy, resource.Replace))
	if err != nil {
		// Only folders made for this move are dropped; existing ones stay.
		foldertree.PruneCreated(ctx, st, created, s.logger)
		return nil, err
	}
	foldertree.PruneUpward(ctx, st, oldParent, s.logger)

	if moved.Identifier != row.Identifier {
		s.publish("moved", moved)
	}
	return &MoveResult{
		UID:          moved.UID,
		Identifier:   moved.Identifier,
		Name:         moved.Name,
		PreviousPath: row.Identifier,
		ModifiedAt:   moved.ModifiedAt,
	}, nil
}

// UpdateMetadata applies the whitelisted keys of fields (title,
// description, alternative, keywords, copyright) to the file's metadata.
// Other keys are ignored.
func (s *Service) UpdateMetadata(_ context.Context, uid int64, fields map[string]any) (*FileDetail, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no metadata provided: %w", apperr.ErrInvalidArgument)
	}
	row, _, err := s.files.File(uid)
	if err != nil {
		return nil, err
	}
	cat := s.files.Catalog()
	meta, err := cat.GetMetadata(uid)
	if err != nil {
		return nil, err
	}
	if meta.Apply(fields) {
		if err := cat.SaveMetadata(uid, meta); err != nil {
			return nil, err
		}
		s.publish("updated", row)
	}
	return toDetail(row, meta), nil
}

// List returns the folders and files directly inside path. Unlike uploads,
// listing never creates folders.
func (s *Service) List(ctx context.Context, storageUID int, path string) (*FolderListing, error) {
	st, err := s.files.Storage(storageUID)
	if err != nil {
		return nil, err
	}
	folder, err := foldertree.Lookup(ctx, st, path)
	if err != nil {
		return nil, err
	}
	subs, err := st.Subfolders(ctx, folder)
	if err != nil {
		return nil, err
	}
	infos, err := st.Files(ctx, folder)
	if err != nil {
		return nil, err
	}

	listing := &FolderListing{
		StorageUID: storageUID,
		Identifier: folder.Identifier,
		Folders:    make([]string, 0, len(subs)),
		Files:      make([]FolderEntry, 0, len(infos)),
	}
	for _, sub := range subs {
		listing.Folders = append(listing.Folders, sub.Name)
	}
	cat := s.files.Catalog()
	for _, info := range infos {
		entry := FolderEntry{Identifier: info.Identifier, Name: info.Name, Size: info.Size, ModifiedAt: info.ModifiedAt}
		row, err := cat.FindFile(storageUID, info.Identifier)
		switch {
		case err == nil:
			entry.UID = row.UID
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
		listing.Files = append(listing.Files, entry)
	}
	return listing, nil
}
