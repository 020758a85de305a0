// Package storagetest provides a conformance suite for storage.Driver implementations.
package storagetest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

// DriverTestSuite runs the shared behaviour tests against fresh drivers.
type DriverTestSuite struct {
	NewDriver func(t *testing.T) storage.Driver
}

// Run executes every test in the suite.
func (suite *DriverTestSuite) Run(t *testing.T) {
	t.Run("Folders", suite.testFolders)
	t.Run("Files", suite.testFiles)
	t.Run("RenameMove", suite.testRenameMove)
	t.Run("DeleteFolder", suite.testDeleteFolder)
}

func put(t *testing.T, d storage.Driver, folder storage.Folder, name, content string) storage.FileInfo {
	t.Helper()
	info, err := d.Put(context.Background(), folder, name, strings.NewReader(content))
	require.NoError(t, err)
	return info
}

func read(t *testing.T, d storage.Driver, identifier string) string {
	t.Helper()
	rc, err := d.Open(context.Background(), identifier)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func (suite *DriverTestSuite) testFolders(test *testing.T) {
	ctx := context.Background()

	test.Run("CreateAndLookup", func(t *testing.T) {
		d := suite.NewDriver(t)
		root := d.RootFolder()

		ok, err := d.HasFolderInFolder(ctx, "docs", root)
		require.NoError(t, err)
		assert.False(t, ok)

		docs, err := d.CreateFolder(ctx, "docs", root)
		require.NoError(t, err)
		assert.Equal(t, "/docs/", docs.Identifier)
		assert.Equal(t, "docs", docs.Name)

		got, err := d.GetFolderInFolder(ctx, "docs", root)
		require.NoError(t, err)
		assert.Equal(t, docs, got)

		subs, err := d.Subfolders(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, []storage.Folder{docs}, subs)
	})

	test.Run("GetMissingFolder", func(t *testing.T) {
		d := suite.NewDriver(t)
		_, err := d.GetFolderInFolder(ctx, "nope", d.RootFolder())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	test.Run("CreateOverFileConflicts", func(t *testing.T) {
		d := suite.NewDriver(t)
		root := d.RootFolder()
		put(t, d, root, "report", "x")

		ok, err := d.HasFolderInFolder(ctx, "report", root)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = d.CreateFolder(ctx, "report", root)
		assert.ErrorIs(t, err, apperr.ErrFolderConflict)
	})

	test.Run("RejectsRelativeNames", func(t *testing.T) {
		d := suite.NewDriver(t)
		for _, name := range []string{".", "..", "a/b", ""} {
			_, err := d.CreateFolder(ctx, name, d.RootFolder())
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "name %q", name)
		}
	})

	test.Run("CountsDirectChildrenOnly", func(t *testing.T) {
		d := suite.NewDriver(t)
		root := d.RootFolder()
		a, err := d.CreateFolder(ctx, "a", root)
		require.NoError(t, err)
		b, err := d.CreateFolder(ctx, "b", a)
		require.NoError(t, err)
		put(t, d, a, "one.txt", "1")
		put(t, d, b, "two.txt", "2")

		n, err := d.FileCount(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		subs, err := d.Subfolders(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, []storage.Folder{b}, subs)

		n, err = d.FileCount(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func (suite *DriverTestSuite) testFiles(test *testing.T) {
	ctx := context.Background()

	test.Run("PutStatOpen", func(t *testing.T) {
		d := suite.NewDriver(t)
		info := put(t, d, d.RootFolder(), "hello.txt", "hello")
		assert.Equal(t, "/hello.txt", info.Identifier)
		assert.Equal(t, "hello.txt", info.Name)
		assert.Equal(t, int64(5), info.Size)

		st, err := d.Stat(ctx, "/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(5), st.Size)
		assert.Equal(t, "hello", read(t, d, "/hello.txt"))

		ok, err := d.HasFile(ctx, "/hello.txt")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	test.Run("PutReplaces", func(t *testing.T) {
		d := suite.NewDriver(t)
		put(t, d, d.RootFolder(), "v.txt", "one")
		put(t, d, d.RootFolder(), "v.txt", "two")
		assert.Equal(t, "two", read(t, d, "/v.txt"))

		files, err := d.Files(ctx, d.RootFolder())
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	test.Run("DeleteFile", func(t *testing.T) {
		d := suite.NewDriver(t)
		put(t, d, d.RootFolder(), "bye.txt", "x")
		require.NoError(t, d.Delete(ctx, "/bye.txt"))

		ok, err := d.HasFile(ctx, "/bye.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		err = d.Delete(ctx, "/bye.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	test.Run("StatMissing", func(t *testing.T) {
		d := suite.NewDriver(t)
		_, err := d.Stat(ctx, "/missing.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func (suite *DriverTestSuite) testRenameMove(test *testing.T) {
	ctx := context.Background()

	test.Run("Rename", func(t *testing.T) {
		d := suite.NewDriver(t)
		put(t, d, d.RootFolder(), "old.txt", "data")

		info, err := d.Rename(ctx, "/old.txt", "new.txt")
		require.NoError(t, err)
		assert.Equal(t, "/new.txt", info.Identifier)
		assert.Equal(t, "data", read(t, d, "/new.txt"))

		ok, err := d.HasFile(ctx, "/old.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	test.Run("RenameOntoExisting", func(t *testing.T) {
		d := suite.NewDriver(t)
		put(t, d, d.RootFolder(), "a.txt", "a")
		put(t, d, d.RootFolder(), "b.txt", "b")

		_, err := d.Rename(ctx, "/a.txt", "b.txt")
		assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	})

	test.Run("MoveIntoFolder", func(t *testing.T) {
		d := suite.NewDriver(t)
		sub, err := d.CreateFolder(ctx, "sub", d.RootFolder())
		require.NoError(t, err)
		put(t, d, d.RootFolder(), "file.txt", "payload")

		info, err := d.Move(ctx, "/file.txt", sub, "moved.txt")
		require.NoError(t, err)
		assert.Equal(t, "/sub/moved.txt", info.Identifier)
		assert.Equal(t, "payload", read(t, d, "/sub/moved.txt"))

		n, err := d.FileCount(ctx, d.RootFolder())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	test.Run("MoveMissing", func(t *testing.T) {
		d := suite.NewDriver(t)
		_, err := d.Move(ctx, "/ghost.txt", d.RootFolder(), "x.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func (suite *DriverTestSuite) testDeleteFolder(test *testing.T) {
	ctx := context.Background()

	test.Run("Recursive", func(t *testing.T) {
		d := suite.NewDriver(t)
		a, err := d.CreateFolder(ctx, "a", d.RootFolder())
		require.NoError(t, err)
		b, err := d.CreateFolder(ctx, "b", a)
		require.NoError(t, err)
		put(t, d, b, "deep.txt", "x")

		require.NoError(t, d.DeleteFolder(ctx, a, true))

		ok, err := d.HasFolderInFolder(ctx, "a", d.RootFolder())
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = d.HasFile(ctx, "/a/b/deep.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	test.Run("EmptyLeaf", func(t *testing.T) {
		d := suite.NewDriver(t)
		leaf, err := d.CreateFolder(ctx, "leaf", d.RootFolder())
		require.NoError(t, err)
		require.NoError(t, d.DeleteFolder(ctx, leaf, true))

		subs, err := d.Subfolders(ctx, d.RootFolder())
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	test.Run("RootRefused", func(t *testing.T) {
		d := suite.NewDriver(t)
		err := d.DeleteFolder(ctx, d.RootFolder(), true)
		assert.Error(t, err)
	})
}
