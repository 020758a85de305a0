package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/filedesk/internal/apperr"
)

type memFile struct {
	data    []byte
	modTime time.Time
}

// Memory is an in-process Driver. Folder identifiers are the map keys of
// folders; files are keyed by their full identifier.
type Memory struct {
	mu      sync.RWMutex
	folders map[string]struct{}
	files   map[string]memFile
	now     func() time.Time
}

var _ Driver = (*Memory)(nil)

// NewMemory returns an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		folders: map[string]struct{}{"/": {}},
		files:   make(map[string]memFile),
		now:     time.Now,
	}
}

func (m *Memory) RootFolder() Folder {
	return RootFolder()
}

func (m *Memory) HasFolderInFolder(_ context.Context, name string, parent Folder) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.folders[parent.Child(name).Identifier]
	return ok, nil
}

func (m *Memory) GetFolderInFolder(ctx context.Context, name string, parent Folder) (Folder, error) {
	ok, err := m.HasFolderInFolder(ctx, name, parent)
	if err != nil {
		return Folder{}, err
	}
	if !ok {
		return Folder{}, fmt.Errorf("storage: folder %s: %w", parent.Child(name).Identifier, apperr.ErrNotFound)
	}
	return parent.Child(name), nil
}

func (m *Memory) CreateFolder(_ context.Context, name string, parent Folder) (Folder, error) {
	if err := ValidateName(name); err != nil {
		return Folder{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[parent.Identifier]; !ok {
		return Folder{}, fmt.Errorf("storage: folder %s: %w", parent.Identifier, apperr.ErrNotFound)
	}
	child := parent.Child(name)
	if _, ok := m.files[parent.FileIdentifier(name)]; ok {
		return Folder{}, fmt.Errorf("storage: create folder %s: %w", child.Identifier, apperr.ErrFolderConflict)
	}
	if _, ok := m.folders[child.Identifier]; ok {
		return Folder{}, fmt.Errorf("storage: create folder %s: %w", child.Identifier, apperr.ErrAlreadyExists)
	}
	m.folders[child.Identifier] = struct{}{}
	return child, nil
}

func (m *Memory) DeleteFolder(_ context.Context, folder Folder, recursive bool) error {
	if folder.IsRoot() {
		return fmt.Errorf("storage: delete root folder: %w", apperr.ErrPermissionDenied)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder.Identifier]; !ok {
		return fmt.Errorf("storage: delete folder %s: %w", folder.Identifier, apperr.ErrNotFound)
	}
	var nested []string
	for id := range m.folders {
		if id != folder.Identifier && strings.HasPrefix(id, folder.Identifier) {
			nested = append(nested, id)
		}
	}
	var files []string
	for id := range m.files {
		if strings.HasPrefix(id, folder.Identifier) {
			files = append(files, id)
		}
	}
	if !recursive && (len(nested) > 0 || len(files) > 0) {
		return fmt.Errorf("storage: delete folder %s: not empty: %w", folder.Identifier, apperr.ErrConflict)
	}
	for _, id := range nested {
		delete(m.folders, id)
	}
	for _, id := range files {
		delete(m.files, id)
	}
	delete(m.folders, folder.Identifier)
	return nil
}

// direct reports whether id names an entry directly inside folder.
func direct(folder Folder, id string) (string, bool) {
	if !strings.HasPrefix(id, folder.Identifier) || id == folder.Identifier {
		return "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(id, folder.Identifier), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (m *Memory) checkFolder(folder Folder) error {
	if _, ok := m.folders[folder.Identifier]; !ok {
		return fmt.Errorf("storage: folder %s: %w", folder.Identifier, apperr.ErrNotFound)
	}
	return nil
}

func (m *Memory) FileCount(_ context.Context, folder Folder) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkFolder(folder); err != nil {
		return 0, err
	}
	n := 0
	for id := range m.files {
		if _, ok := direct(folder, id); ok {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Subfolders(_ context.Context, folder Folder) ([]Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkFolder(folder); err != nil {
		return nil, err
	}
	var out []Folder
	for id := range m.folders {
		if name, ok := direct(folder, id); ok {
			out = append(out, folder.Child(name))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *Memory) Files(_ context.Context, folder Folder) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkFolder(folder); err != nil {
		return nil, err
	}
	var out []FileInfo
	for id, f := range m.files {
		if name, ok := direct(folder, id); ok {
			out = append(out, FileInfo{Identifier: id, Name: name, Size: int64(len(f.data)), ModifiedAt: f.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *Memory) HasFile(_ context.Context, identifier string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[identifier]
	return ok, nil
}

func (m *Memory) Stat(_ context.Context, identifier string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statLocked(identifier)
}

func (m *Memory) statLocked(identifier string) (FileInfo, error) {
	f, ok := m.files[identifier]
	if !ok {
		return FileInfo{}, fmt.Errorf("storage: stat %s: %w", identifier, apperr.ErrNotFound)
	}
	return FileInfo{Identifier: identifier, Name: BaseName(identifier), Size: int64(len(f.data)), ModifiedAt: f.modTime}, nil
}

func (m *Memory) Open(_ context.Context, identifier string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[identifier]
	if !ok {
		return nil, fmt.Errorf("storage: open %s: %w", identifier, apperr.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *Memory) Put(_ context.Context, folder Folder, name string, r io.Reader) (FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return FileInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return FileInfo{}, fmt.Errorf("storage: read upload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFolder(folder); err != nil {
		return FileInfo{}, err
	}
	if _, ok := m.folders[folder.Child(name).Identifier]; ok {
		return FileInfo{}, fmt.Errorf("storage: put %s: is a folder: %w", folder.Child(name).Identifier, apperr.ErrConflict)
	}
	id := folder.FileIdentifier(name)
	m.files[id] = memFile{data: data, modTime: m.now()}
	return m.statLocked(id)
}

func (m *Memory) Rename(ctx context.Context, identifier, newName string) (FileInfo, error) {
	return m.Move(ctx, identifier, ParentOf(identifier), newName)
}

func (m *Memory) Move(_ context.Context, identifier string, target Folder, newName string) (FileInfo, error) {
	if err := ValidateName(newName); err != nil {
		return FileInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[identifier]
	if !ok {
		return FileInfo{}, fmt.Errorf("storage: move %s: %w", identifier, apperr.ErrNotFound)
	}
	if err := m.checkFolder(target); err != nil {
		return FileInfo{}, err
	}
	newID := target.FileIdentifier(newName)
	if newID == identifier {
		return m.statLocked(identifier)
	}
	if _, exists := m.files[newID]; exists {
		return FileInfo{}, fmt.Errorf("storage: move to %s: %w", newID, apperr.ErrAlreadyExists)
	}
	delete(m.files, identifier)
	f.modTime = m.now()
	m.files[newID] = f
	return m.statLocked(newID)
}

func (m *Memory) Delete(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[identifier]; !ok {
		return fmt.Errorf("storage: delete %s: %w", identifier, apperr.ErrNotFound)
	}
	delete(m.files, identifier)
	return nil
}
