package kv_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
	"github.com/starford/filedesk/internal/storage/kv"
	"github.com/starford/filedesk/internal/storage/storagetest"
)

func openMemory(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.Open(kv.Options{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDriverSuite(t *testing.T) {
	suite := &storagetest.DriverTestSuite{
		NewDriver: func(t *testing.T) storage.Driver { return openMemory(t) },
	}
	suite.Run(t)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := kv.Open(kv.Options{}, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")

	s, err := kv.Open(kv.Options{Path: dir}, nil)
	require.NoError(t, err)
	docs, err := s.CreateFolder(ctx, "docs", s.RootFolder())
	require.NoError(t, err)
	_, err = s.Put(ctx, docs, "a.txt", strings.NewReader("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = kv.Open(kv.Options{Path: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	info, err := s.Stat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)
}

func TestNonRecursiveDeleteOfNonEmptyFolder(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	a, err := s.CreateFolder(ctx, "a", s.RootFolder())
	require.NoError(t, err)
	_, err = s.Put(ctx, a, "x.bin", strings.NewReader("x"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteFolder(ctx, a, false), apperr.ErrConflict)
}

func TestSiblingPrefixNotListed(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	a, err := s.CreateFolder(ctx, "a", s.RootFolder())
	require.NoError(t, err)
	ab, err := s.CreateFolder(ctx, "ab", s.RootFolder())
	require.NoError(t, err)
	_, err = s.Put(ctx, ab, "y.txt", strings.NewReader("y"))
	require.NoError(t, err)

	n, err := s.FileCount(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.DeleteFolder(ctx, a, true))
	ok, err := s.HasFile(ctx, "/ab/y.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}
