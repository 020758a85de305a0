// Package gdrive implements a storage driver over a Google Drive folder.
//
// Drive addresses items by ID and allows duplicate names, so identifiers are
// resolved one segment at a time from the configured root folder; the first
// match of a name wins.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

const (
	mimeTypeFolder = "application/vnd.google-apps.folder"
	fileFields     = "parents,id,name,mimeType,size,modifiedTime"
	filesFields    = "nextPageToken,files(parents,id,name,mimeType,size,modifiedTime)"
)

// Options configures a Drive storage.
type Options struct {
	RootFolderID    string `mapstructure:"root_folder_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

// Store is a storage.Driver rooted at one Drive folder.
type Store struct {
	service *drive.Service
	rootID  string
}

var _ storage.Driver = (*Store)(nil)

// NewService builds a Drive client from opts. Without a credentials file
// Application Default Credentials are used.
func NewService(ctx context.Context, opts Options, extra ...option.ClientOption) (*drive.Service, error) {
	clientOpts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	clientOpts = append(clientOpts, extra...)
	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: create service: %w", err)
	}
	return svc, nil
}

// New returns a driver whose root is the folder rootID.
func New(service *drive.Service, rootID string) (*Store, error) {
	if rootID == "" {
		return nil, fmt.Errorf("gdrive: root_folder_id is required: %w", apperr.ErrInvalidArgument)
	}
	return &Store{service: service, rootID: rootID}, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return s
}

func isFolder(f *drive.File) bool {
	return f.MimeType == mimeTypeFolder
}

func mapErr(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("gdrive: %s: %w", op, apperr.ErrNotFound)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("gdrive: %s: %w", op, apperr.ErrPermissionDenied)
		}
	}
	return fmt.Errorf("gdrive: %s: %w", op, err)
}

func (s *Store) query(ctx context.Context, q string) ([]*drive.File, error) {
	var out []*drive.File
	err := s.service.Files.List().
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Q(q).
		Fields(filesFields).
		Pages(ctx, func(list *drive.FileList) error {
			out = append(out, list.Files...)
			return nil
		})
	if err != nil {
		return nil, mapErr("list", err)
	}
	return out, nil
}

func (s *Store) childrenNamed(ctx context.Context, parentID, name string) ([]*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(parentID))
	return s.query(ctx, q)
}

func (s *Store) children(ctx context.Context, parentID string) ([]*drive.File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID))
	return s.query(ctx, q)
}

// child returns the first child of parentID called name whose kind matches.
func (s *Store) child(ctx context.Context, parentID, name string, folder bool) (*drive.File, error) {
	files, err := s.childrenNamed(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if isFolder(f) == folder {
			return f, nil
		}
	}
	return nil, nil
}

// folderID resolves a folder identifier to its Drive ID.
func (s *Store) folderID(ctx context.Context, folder storage.Folder) (string, error) {
	id := s.rootID
	for _, name := range strings.Split(strings.Trim(folder.Identifier, "/"), "/") {
		if name == "" {
			continue
		}
		f, err := s.child(ctx, id, name, true)
		if err != nil {
			return "", err
		}
		if f == nil {
			return "", fmt.Errorf("gdrive: folder %s: %w", folder.Identifier, apperr.ErrNotFound)
		}
		id = f.Id
	}
	return id, nil
}

func (s *Store) file(ctx context.Context, identifier string) (*drive.File, error) {
	parentID, err := s.folderID(ctx, storage.ParentOf(identifier))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("gdrive: file %s: %w", identifier, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	f, err := s.child(ctx, parentID, storage.BaseName(identifier), false)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("gdrive: file %s: %w", identifier, apperr.ErrNotFound)
	}
	return f, nil
}

func info(identifier string, f *drive.File) storage.FileInfo {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return storage.FileInfo{
		Identifier: identifier,
		Name:       f.Name,
		Size:       f.Size,
		ModifiedAt: modTime,
	}
}

func (s *Store) RootFolder() storage.Folder {
	return storage.RootFolder()
}

func (s *Store) HasFolderInFolder(ctx context.Context, name string, parent storage.Folder) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}
	parentID, err := s.folderID(ctx, parent)
	if err != nil {
		return false, err
	}
	f, err := s.child(ctx, parentID, name, true)
	return f != nil, err
}

func (s *Store) GetFolderInFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	ok, err := s.HasFolderInFolder(ctx, name, parent)
	if err != nil {
		return storage.Folder{}, err
	}
	if !ok {
		return storage.Folder{}, fmt.Errorf("gdrive: folder %s: %w", parent.Child(name).Identifier, apperr.ErrNotFound)
	}
	return parent.Child(name), nil
}

func (s *Store) CreateFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.Folder{}, err
	}
	child := parent.Child(name)
	parentID, err := s.folderID(ctx, parent)
	if err != nil {
		return storage.Folder{}, err
	}
	existing, err := s.childrenNamed(ctx, parentID, name)
	if err != nil {
		return storage.Folder{}, err
	}
	if slices.ContainsFunc(existing, isFolder) {
		return storage.Folder{}, fmt.Errorf("gdrive: create folder %s: %w", child.Identifier, apperr.ErrAlreadyExists)
	}
	if len(existing) > 0 {
		return storage.Folder{}, fmt.Errorf("gdrive: create folder %s: %w", child.Identifier, apperr.ErrFolderConflict)
	}

	_, err = s.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: mimeTypeFolder,
		Parents:  []string{parentID},
	}).
		Context(ctx).
		SupportsAllDrives(true).
		Fields(fileFields).
		Do()
	if err != nil {
		return storage.Folder{}, mapErr("create folder "+child.Identifier, err)
	}
	return child, nil
}

func (s *Store) DeleteFolder(ctx context.Context, folder storage.Folder, recursive bool) error {
	if folder.IsRoot() {
		return fmt.Errorf("gdrive: delete root folder: %w", apperr.ErrPermissionDenied)
	}
	id, err := s.folderID(ctx, folder)
	if err != nil {
		return err
	}
	if !recursive {
		kids, err := s.children(ctx, id)
		if err != nil {
			return err
		}
		if len(kids) > 0 {
			return fmt.Errorf("gdrive: delete folder %s: not empty: %w", folder.Identifier, apperr.ErrConflict)
		}
	}
	// Deleting a Drive folder removes its descendants too.
	if err := s.service.Files.Delete(id).Context(ctx).SupportsAllDrives(true).Do(); err != nil {
		return mapErr("delete folder "+folder.Identifier, err)
	}
	return nil
}

func (s *Store) FileCount(ctx context.Context, folder storage.Folder) (int, error) {
	files, err := s.Files(ctx, folder)
	return len(files), err
}

func (s *Store) Subfolders(ctx context.Context, folder storage.Folder) ([]storage.Folder, error) {
	id, err := s.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	kids, err := s.children(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []storage.Folder
	seen := make(map[string]bool)
	for _, f := range kids {
		if isFolder(f) && !seen[f.Name] {
			seen[f.Name] = true
			out = append(out, folder.Child(f.Name))
		}
	}
	return out, nil
}

func (s *Store) Files(ctx context.Context, folder storage.Folder) ([]storage.FileInfo, error) {
	id, err := s.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	kids, err := s.children(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []storage.FileInfo
	seen := make(map[string]bool)
	for _, f := range kids {
		if !isFolder(f) && !seen[f.Name] {
			seen[f.Name] = true
			out = append(out, info(folder.FileIdentifier(f.Name), f))
		}
	}
	return out, nil
}

func (s *Store) HasFile(ctx context.Context, identifier string) (bool, error) {
	_, err := s.file(ctx, identifier)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Stat(ctx context.Context, identifier string) (storage.FileInfo, error) {
	f, err := s.file(ctx, identifier)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return info(identifier, f), nil
}

func (s *Store) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	f, err := s.file(ctx, identifier)
	if err != nil {
		return nil, err
	}
	resp, err := s.service.Files.Get(f.Id).Context(ctx).SupportsAllDrives(true).Download()
	if err != nil {
		return nil, mapErr("download "+identifier, err)
	}
	return resp.Body, nil
}

func (s *Store) Put(ctx context.Context, folder storage.Folder, name string, r io.Reader) (storage.FileInfo, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.FileInfo{}, err
	}
	id := folder.FileIdentifier(name)
	parentID, err := s.folderID(ctx, folder)
	if err != nil {
		return storage.FileInfo{}, err
	}
	existing, err := s.childrenNamed(ctx, parentID, name)
	if err != nil {
		return storage.FileInfo{}, err
	}
	var current *drive.File
	for _, f := range existing {
		if isFolder(f) {
			return storage.FileInfo{}, fmt.Errorf("gdrive: put %s: is a folder: %w", id, apperr.ErrConflict)
		}
		if current == nil {
			current = f
		}
	}

	var f *drive.File
	if current != nil {
		f, err = s.service.Files.Update(current.Id, &drive.File{}).
			Context(ctx).
			SupportsAllDrives(true).
			Fields(fileFields).
			Media(r).
			Do()
	} else {
		f, err = s.service.Files.Create(&drive.File{Name: name, Parents: []string{parentID}}).
			Context(ctx).
			SupportsAllDrives(true).
			Fields(fileFields).
			Media(r).
			Do()
	}
	if err != nil {
		return storage.FileInfo{}, mapErr("upload "+id, err)
	}
	return info(id, f), nil
}

func (s *Store) Rename(ctx context.Context, identifier, newName string) (storage.FileInfo, error) {
	return s.Move(ctx, identifier, storage.ParentOf(identifier), newName)
}

func (s *Store) Move(ctx context.Context, identifier string, target storage.Folder, newName string) (storage.FileInfo, error) {
	if err := storage.ValidateName(newName); err != nil {
		return storage.FileInfo{}, err
	}
	f, err := s.file(ctx, identifier)
	if err != nil {
		return storage.FileInfo{}, err
	}
	targetID, err := s.folderID(ctx, target)
	if err != nil {
		return storage.FileInfo{}, err
	}
	newID := target.FileIdentifier(newName)
	if newID == identifier {
		return info(identifier, f), nil
	}
	if taken, err := s.child(ctx, targetID, newName, false); err != nil {
		return storage.FileInfo{}, err
	} else if taken != nil {
		return storage.FileInfo{}, fmt.Errorf("gdrive: move to %s: %w", newID, apperr.ErrAlreadyExists)
	}

	call := s.service.Files.Update(f.Id, &drive.File{Name: newName}).
		Context(ctx).
		SupportsAllDrives(true).
		Fields(fileFields)
	if !slices.Contains(f.Parents, targetID) {
		call = call.AddParents(targetID).RemoveParents(strings.Join(f.Parents, ","))
	}
	moved, err := call.Do()
	if err != nil {
		return storage.FileInfo{}, mapErr("move "+identifier, err)
	}
	return info(newID, moved), nil
}

func (s *Store) Delete(ctx context.Context, identifier string) error {
	f, err := s.file(ctx, identifier)
	if err != nil {
		return err
	}
	if err := s.service.Files.Delete(f.Id).Context(ctx).SupportsAllDrives(true).Do(); err != nil {
		return mapErr("delete "+identifier, err)
	}
	return nil
}
