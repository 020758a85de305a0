package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/filedesk/internal/apperr"
)

// TempPrefix marks in-flight writes of the FS driver.
const TempPrefix = ".filedesk-tmp-"

// FS implements Driver backed by the local file system.
type FS struct {
	root string // absolute path to storage directory
}

var _ Driver = (*FS)(nil)

// NewFS creates a new FS driver rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute directory the driver serves.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves an identifier against the storage root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(identifier string) (string, error) {
	rel := strings.Trim(identifier, "/")
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s: %w", identifier, apperr.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes storage root: %s: %w", identifier, apperr.ErrInvalidArgument)
	}
	return abs, nil
}

// mapErr translates os errors into the shared sentinels.
func mapErr(op, identifier string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("storage: %s %s: %w", op, identifier, apperr.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("storage: %s %s: %w", op, identifier, apperr.ErrPermissionDenied)
	default:
		return fmt.Errorf("storage: %s %s: %w", op, identifier, err)
	}
}

// RootFolder returns "/".
func (f *FS) RootFolder() Folder {
	return RootFolder()
}

// HasFolderInFolder reports whether parent contains a directory called name.
func (f *FS) HasFolderInFolder(_ context.Context, name string, parent Folder) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	abs, err := f.safePath(parent.Child(name).Identifier)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("stat", parent.Child(name).Identifier, err)
	}
	return info.IsDir(), nil
}

// GetFolderInFolder returns the child directory called name.
func (f *FS) GetFolderInFolder(ctx context.Context, name string, parent Folder) (Folder, error) {
	ok, err := f.HasFolderInFolder(ctx, name, parent)
	if err != nil {
		return Folder{}, err
	}
	child := parent.Child(name)
	if !ok {
		return Folder{}, fmt.Errorf("storage: folder %s: %w", child.Identifier, apperr.ErrNotFound)
	}
	return child, nil
}

// CreateFolder creates the directory name inside parent.
func (f *FS) CreateFolder(_ context.Context, name string, parent Folder) (Folder, error) {
	if err := ValidateName(name); err != nil {
		return Folder{}, err
	}
	child := parent.Child(name)
	abs, err := f.safePath(child.Identifier)
	if err != nil {
		return Folder{}, err
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
				return Folder{}, fmt.Errorf("storage: create folder %s: %w", child.Identifier, apperr.ErrFolderConflict)
			}
			return Folder{}, fmt.Errorf("storage: create folder %s: %w", child.Identifier, apperr.ErrAlreadyExists)
		}
		return Folder{}, mapErr("create folder", child.Identifier, err)
	}
	return child, nil
}

// DeleteFolder removes a directory. The root is never removed.
func (f *FS) DeleteFolder(_ context.Context, folder Folder, recursive bool) error {
	if folder.IsRoot() {
		return fmt.Errorf("storage: delete root folder: %w", apperr.ErrPermissionDenied)
	}
	abs, err := f.safePath(folder.Identifier)
	if err != nil {
		return err
	}
	if recursive {
		if _, err := os.Stat(abs); err != nil {
			return mapErr("delete folder", folder.Identifier, err)
		}
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return mapErr("delete folder", folder.Identifier, err)
	}
	return nil
}

func (f *FS) readDir(folder Folder) ([]fs.DirEntry, error) {
	abs, err := f.safePath(folder.Identifier)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapErr("list", folder.Identifier, err)
	}
	return entries, nil
}

// FileCount counts regular files directly inside folder.
func (f *FS) FileCount(_ context.Context, folder Folder) (int, error) {
	entries, err := f.readDir(folder)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), TempPrefix) {
			n++
		}
	}
	return n, nil
}

// Subfolders lists directories directly inside folder.
func (f *FS) Subfolders(_ context.Context, folder Folder) ([]Folder, error) {
	entries, err := f.readDir(folder)
	if err != nil {
		return nil, err
	}
	var out []Folder
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, folder.Child(e.Name()))
		}
	}
	return out, nil
}

// Files lists regular files directly inside folder.
func (f *FS) Files(_ context.Context, folder Folder) ([]FileInfo, error) {
	entries, err := f.readDir(folder)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, mapErr("stat", folder.FileIdentifier(e.Name()), err)
		}
		out = append(out, FileInfo{
			Identifier: folder.FileIdentifier(e.Name()),
			Name:       e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return out, nil
}

// HasFile reports whether identifier is an existing regular file.
func (f *FS) HasFile(_ context.Context, identifier string) (bool, error) {
	abs, err := f.safePath(identifier)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("stat", identifier, err)
	}
	return !info.IsDir(), nil
}

// Stat returns the attributes of a file.
func (f *FS) Stat(_ context.Context, identifier string) (FileInfo, error) {
	abs, err := f.safePath(identifier)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, mapErr("stat", identifier, err)
	}
	if info.IsDir() {
		return FileInfo{}, fmt.Errorf("storage: stat %s: is a folder: %w", identifier, apperr.ErrNotFound)
	}
	return FileInfo{
		Identifier: "/" + strings.TrimPrefix(identifier, "/"),
		Name:       info.Name(),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}

// Open returns a reader over the file content.
func (f *FS) Open(_ context.Context, identifier string) (io.ReadCloser, error) {
	abs, err := f.safePath(identifier)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(abs)
	if err != nil {
		return nil, mapErr("open", identifier, err)
	}
	return fh, nil
}

// Put atomically writes content: tmp file → fsync → rename.
func (f *FS) Put(ctx context.Context, folder Folder, name string, r io.Reader) (FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return FileInfo{}, err
	}
	identifier := folder.FileIdentifier(name)
	abs, err := f.safePath(identifier)
	if err != nil {
		return FileInfo{}, err
	}
	dir := filepath.Dir(abs)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return FileInfo{}, fmt.Errorf("storage: put %s: parent folder missing: %w", identifier, apperr.ErrNotFound)
	}

	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return FileInfo{}, mapErr("create temp", identifier, err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return FileInfo{}, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return FileInfo{}, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return FileInfo{}, mapErr("rename temp", identifier, err)
	}
	success = true
	return f.Stat(ctx, identifier)
}

// Rename changes the name of a file within its folder.
func (f *FS) Rename(ctx context.Context, identifier, newName string) (FileInfo, error) {
	return f.Move(ctx, identifier, ParentOf(identifier), newName)
}

// Move relocates a file into target under newName.
func (f *FS) Move(ctx context.Context, identifier string, target Folder, newName string) (FileInfo, error) {
	if err := ValidateName(newName); err != nil {
		return FileInfo{}, err
	}
	absOld, err := f.safePath(identifier)
	if err != nil {
		return FileInfo{}, err
	}
	newIdentifier := target.FileIdentifier(newName)
	absNew, err := f.safePath(newIdentifier)
	if err != nil {
		return FileInfo{}, err
	}
	if _, err := os.Stat(absOld); err != nil {
		return FileInfo{}, mapErr("move", identifier, err)
	}
	if absOld == absNew {
		return f.Stat(ctx, identifier)
	}
	if info, err := os.Stat(filepath.Dir(absNew)); err != nil || !info.IsDir() {
		return FileInfo{}, fmt.Errorf("storage: move to %s: %w", target.Identifier, apperr.ErrNotFound)
	}
	if _, err := os.Stat(absNew); err == nil {
		return FileInfo{}, fmt.Errorf("storage: move to %s: %w", newIdentifier, apperr.ErrAlreadyExists)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return FileInfo{}, mapErr("move", identifier, err)
	}
	return f.Stat(ctx, newIdentifier)
}

// Delete removes a file from the storage.
func (f *FS) Delete(_ context.Context, identifier string) error {
	abs, err := f.safePath(identifier)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return mapErr("delete", identifier, err)
	}
	if info.IsDir() {
		return fmt.Errorf("storage: delete %s: is a folder: %w", identifier, apperr.ErrInvalidArgument)
	}
	if err := os.Remove(abs); err != nil {
		return mapErr("delete", identifier, err)
	}
	return nil
}
