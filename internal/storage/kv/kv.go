// Package kv implements a storage driver on top of an embedded BadgerDB.
//
// Key layout:
//
//	d:<folder identifier>  folder marker ("d:/a/b/")
//	m:<file identifier>    JSON attributes of a file
//	b:<file identifier>    file content
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

const (
	folderPrefix = "d:"
	metaPrefix   = "m:"
	blobPrefix   = "b:"
)

// Options configures a badger-backed storage.
type Options struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// Store is a storage.Driver persisted in BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

var _ storage.Driver = (*Store)(nil)

type attrs struct {
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Open opens (or creates) the database described by opts.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("kv: path is required unless in_memory is set: %w", apperr.ErrInvalidArgument)
	}
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING)
	if logger != nil {
		bopts = bopts.WithLogger(badgerLogger{logger.With(slog.String("component", "badger"))})
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", opts.Path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func folderKey(identifier string) []byte { return []byte(folderPrefix + identifier) }
func metaKey(identifier string) []byte   { return []byte(metaPrefix + identifier) }
func blobKey(identifier string) []byte   { return []byte(blobPrefix + identifier) }

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// folderExists treats the root as always present.
func folderExists(txn *badger.Txn, folder storage.Folder) (bool, error) {
	if folder.IsRoot() {
		return true, nil
	}
	return exists(txn, folderKey(folder.Identifier))
}

func requireFolder(txn *badger.Txn, folder storage.Folder) error {
	ok, err := folderExists(txn, folder)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("kv: folder %s: %w", folder.Identifier, apperr.ErrNotFound)
	}
	return nil
}

func readAttrs(txn *badger.Txn, identifier string) (attrs, error) {
	var a attrs
	item, err := txn.Get(metaKey(identifier))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return a, fmt.Errorf("kv: file %s: %w", identifier, apperr.ErrNotFound)
	}
	if err != nil {
		return a, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	})
	return a, err
}

func info(identifier string, a attrs) storage.FileInfo {
	return storage.FileInfo{
		Identifier: identifier,
		Name:       storage.BaseName(identifier),
		Size:       a.Size,
		ModifiedAt: a.ModifiedAt,
	}
}

// directChild returns the name of key (stripped of prefix) when it lies
// directly inside folder.
func directChild(rest string, folder storage.Folder) (string, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(rest, folder.Identifier), "/")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// scan calls fn for every key under prefix+folder.
func scan(txn *badger.Txn, prefix string, folder storage.Folder, values bool, fn func(rest string, item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = []byte(prefix + folder.Identifier)

	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		rest := string(item.Key()[len(prefix):])
		if err := fn(rest, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RootFolder() storage.Folder {
	return storage.RootFolder()
}

func (s *Store) HasFolderInFolder(_ context.Context, name string, parent storage.Folder) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, folderKey(parent.Child(name).Identifier))
		return err
	})
	return ok, err
}

func (s *Store) GetFolderInFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	ok, err := s.HasFolderInFolder(ctx, name, parent)
	if err != nil {
		return storage.Folder{}, err
	}
	if !ok {
		return storage.Folder{}, fmt.Errorf("kv: folder %s: %w", parent.Child(name).Identifier, apperr.ErrNotFound)
	}
	return parent.Child(name), nil
}

func (s *Store) CreateFolder(_ context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.Folder{}, err
	}
	child := parent.Child(name)
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireFolder(txn, parent); err != nil {
			return err
		}
		if isFile, err := exists(txn, metaKey(parent.FileIdentifier(name))); err != nil {
			return err
		} else if isFile {
			return fmt.Errorf("kv: create folder %s: %w", child.Identifier, apperr.ErrFolderConflict)
		}
		if dup, err := exists(txn, folderKey(child.Identifier)); err != nil {
			return err
		} else if dup {
			return fmt.Errorf("kv: create folder %s: %w", child.Identifier, apperr.ErrAlreadyExists)
		}
		return txn.Set(folderKey(child.Identifier), nil)
	})
	if err != nil {
		return storage.Folder{}, err
	}
	return child, nil
}

func (s *Store) DeleteFolder(_ context.Context, folder storage.Folder, recursive bool) error {
	if folder.IsRoot() {
		return fmt.Errorf("kv: delete root folder: %w", apperr.ErrPermissionDenied)
	}
	var nonEmpty bool
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireFolder(txn, folder); err != nil {
			return err
		}
		for _, prefix := range []string{folderPrefix, metaPrefix} {
			err := scan(txn, prefix, folder, false, func(rest string, _ *badger.Item) error {
				if rest != folder.Identifier {
					nonEmpty = true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if nonEmpty && !recursive {
		return fmt.Errorf("kv: delete folder %s: not empty: %w", folder.Identifier, apperr.ErrConflict)
	}
	if !nonEmpty {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(folderKey(folder.Identifier))
		})
	}
	return s.dropTree(folder)
}

// dropTree deletes every key below folder in one write batch.
func (s *Store) dropTree(folder storage.Folder) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{folderPrefix, metaPrefix, blobPrefix} {
			err := scan(txn, prefix, folder, false, func(_ string, item *badger.Item) error {
				keys = append(keys, item.KeyCopy(nil))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("kv: delete folder %s: %w", folder.Identifier, err)
		}
	}
	return wb.Flush()
}

func (s *Store) FileCount(ctx context.Context, folder storage.Folder) (int, error) {
	files, err := s.Files(ctx, folder)
	return len(files), err
}

func (s *Store) Subfolders(_ context.Context, folder storage.Folder) ([]storage.Folder, error) {
	var out []storage.Folder
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireFolder(txn, folder); err != nil {
			return err
		}
		return scan(txn, folderPrefix, folder, false, func(rest string, _ *badger.Item) error {
			if name, ok := directChild(rest, folder); ok {
				out = append(out, folder.Child(name))
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (s *Store) Files(_ context.Context, folder storage.Folder) ([]storage.FileInfo, error) {
	var out []storage.FileInfo
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireFolder(txn, folder); err != nil {
			return err
		}
		return scan(txn, metaPrefix, folder, true, func(rest string, item *badger.Item) error {
			if _, ok := directChild(rest, folder); !ok {
				return nil
			}
			var a attrs
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err != nil {
				return err
			}
			out = append(out, info(rest, a))
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (s *Store) HasFile(_ context.Context, identifier string) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, metaKey(identifier))
		return err
	})
	return ok, err
}

func (s *Store) Stat(_ context.Context, identifier string) (storage.FileInfo, error) {
	var a attrs
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = readAttrs(txn, identifier)
		return err
	})
	if err != nil {
		return storage.FileInfo{}, err
	}
	return info(identifier, a), nil
}

func (s *Store) Open(_ context.Context, identifier string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(identifier))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("kv: open %s: %w", identifier, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Put(_ context.Context, folder storage.Folder, name string, r io.Reader) (storage.FileInfo, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.FileInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("kv: read upload: %w", err)
	}
	id := folder.FileIdentifier(name)
	a := attrs{Size: int64(len(data)), ModifiedAt: s.now().UTC()}
	raw, err := json.Marshal(a)
	if err != nil {
		return storage.FileInfo{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := requireFolder(txn, folder); err != nil {
			return err
		}
		if isFolder, err := exists(txn, folderKey(folder.Child(name).Identifier)); err != nil {
			return err
		} else if isFolder {
			return fmt.Errorf("kv: put %s: is a folder: %w", id, apperr.ErrConflict)
		}
		if err := txn.Set(blobKey(id), data); err != nil {
			return err
		}
		return txn.Set(metaKey(id), raw)
	})
	if err != nil {
		return storage.FileInfo{}, err
	}
	return info(id, a), nil
}

func (s *Store) Rename(ctx context.Context, identifier, newName string) (storage.FileInfo, error) {
	return s.Move(ctx, identifier, storage.ParentOf(identifier), newName)
}

func (s *Store) Move(_ context.Context, identifier string, target storage.Folder, newName string) (storage.FileInfo, error) {
	if err := storage.ValidateName(newName); err != nil {
		return storage.FileInfo{}, err
	}
	newID := target.FileIdentifier(newName)
	var a attrs
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if a, err = readAttrs(txn, identifier); err != nil {
			return err
		}
		if err := requireFolder(txn, target); err != nil {
			return err
		}
		if newID == identifier {
			return nil
		}
		if taken, err := exists(txn, metaKey(newID)); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("kv: move to %s: %w", newID, apperr.ErrAlreadyExists)
		}

		item, err := txn.Get(blobKey(identifier))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		a.ModifiedAt = s.now().UTC()
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		for _, op := range []func() error{
			func() error { return txn.Set(blobKey(newID), data) },
			func() error { return txn.Set(metaKey(newID), raw) },
			func() error { return txn.Delete(blobKey(identifier)) },
			func() error { return txn.Delete(metaKey(identifier)) },
		} {
			if err := op(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storage.FileInfo{}, err
	}
	return info(newID, a), nil
}

func (s *Store) Delete(_ context.Context, identifier string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, metaKey(identifier)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("kv: delete %s: %w", identifier, apperr.ErrNotFound)
		}
		if err := txn.Delete(blobKey(identifier)); err != nil {
			return err
		}
		return txn.Delete(metaKey(identifier))
	})
}
