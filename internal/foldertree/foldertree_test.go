package foldertree

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

// recordingTree wraps an in-memory driver and records mutations.
type recordingTree struct {
	*storage.Memory
	created      []string
	deleted      []string
	countErrFor  string
	createErrFor string
	// vanishFor names a folder whose delete reports not found after the
	// folder is already gone, as an implicit S3 prefix does.
	vanishFor string
}

func newRecordingTree() *recordingTree {
	return &recordingTree{Memory: storage.NewMemory()}
}

func (r *recordingTree) CreateFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	if name == r.createErrFor {
		return storage.Folder{}, apperr.ErrPermissionDenied
	}
	f, err := r.Memory.CreateFolder(ctx, name, parent)
	if err == nil {
		r.created = append(r.created, f.Identifier)
	}
	return f, err
}

func (r *recordingTree) DeleteFolder(ctx context.Context, folder storage.Folder, recursive bool) error {
	if folder.Identifier == r.vanishFor {
		_ = r.Memory.DeleteFolder(ctx, folder, recursive)
		return apperr.ErrNotFound
	}
	err := r.Memory.DeleteFolder(ctx, folder, recursive)
	if err == nil {
		r.deleted = append(r.deleted, folder.Identifier)
	}
	return err
}

func (r *recordingTree) FileCount(ctx context.Context, folder storage.Folder) (int, error) {
	if folder.Identifier == r.countErrFor {
		return 0, errors.New("backend unavailable")
	}
	return r.Memory.FileCount(ctx, folder)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSegments(t *testing.T) {
	assert.Empty(t, Segments(""))
	assert.Empty(t, Segments("/"))
	assert.Empty(t, Segments("///"))
	assert.Equal(t, []string{"a", "b", "c"}, Segments("/a//b/c/"))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyPathsReturnRoot", func(t *testing.T) {
		tree := newRecordingTree()
		for _, p := range []string{"", "/", "///"} {
			f, err := Resolve(ctx, tree, p)
			require.NoError(t, err)
			assert.True(t, f.IsRoot(), "path %q", p)
		}
		assert.Empty(t, tree.created)
	})

	t.Run("CreatesMissingChainInOrder", func(t *testing.T) {
		tree := newRecordingTree()
		f, err := Resolve(ctx, tree, "a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "/a/b/c/", f.Identifier)
		assert.Equal(t, []string{"/a/", "/a/b/", "/a/b/c/"}, tree.created)
	})

	t.Run("Idempotent", func(t *testing.T) {
		tree := newRecordingTree()
		first, err := Resolve(ctx, tree, "/x/y/")
		require.NoError(t, err)
		require.Len(t, tree.created, 2)

		second, err := Resolve(ctx, tree, "x//y")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, tree.created, 2)
	})

	t.Run("CreatesOnlyMissingSuffix", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := Resolve(ctx, tree, "a/b")
		require.NoError(t, err)
		tree.created = nil

		_, err = Resolve(ctx, tree, "a/b/c/d")
		require.NoError(t, err)
		assert.Equal(t, []string{"/a/b/c/", "/a/b/c/d/"}, tree.created)
	})

	t.Run("PermissionDeniedPropagates", func(t *testing.T) {
		tree := newRecordingTree()
		tree.createErrFor = "locked"
		_, err := Resolve(ctx, tree, "open/locked/inner")
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
		assert.Equal(t, []string{"/open/"}, tree.created)
	})

	t.Run("FileInTheWayIsFolderConflict", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := tree.Put(ctx, tree.RootFolder(), "docs", strings.NewReader("x"))
		require.NoError(t, err)

		_, err = Resolve(ctx, tree, "docs/sub")
		assert.ErrorIs(t, err, apperr.ErrFolderConflict)
	})
}

func TestPruneUpward(t *testing.T) {
	ctx := context.Background()

	t.Run("StopsAtNonEmptyAncestor", func(t *testing.T) {
		tree := newRecordingTree()
		c, err := Resolve(ctx, tree, "a/b/c")
		require.NoError(t, err)
		a := storage.FolderAt("/a/")
		_, err = tree.Put(ctx, a, "keep.txt", strings.NewReader("x"))
		require.NoError(t, err)

		PruneUpward(ctx, tree, c, discardLogger())

		assert.Equal(t, []string{"/a/b/c/", "/a/b/"}, tree.deleted)
		ok, err := tree.HasFolderInFolder(ctx, "a", tree.RootFolder())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("FolderWithFileUntouched", func(t *testing.T) {
		tree := newRecordingTree()
		f, err := Resolve(ctx, tree, "docs")
		require.NoError(t, err)
		_, err = tree.Put(ctx, f, "one.txt", strings.NewReader("1"))
		require.NoError(t, err)

		PruneUpward(ctx, tree, f, discardLogger())
		assert.Empty(t, tree.deleted)
	})

	t.Run("FolderWithSubfolderUntouched", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := Resolve(ctx, tree, "p/q")
		require.NoError(t, err)

		PruneUpward(ctx, tree, storage.FolderAt("/p/"), discardLogger())
		assert.Empty(t, tree.deleted)
	})

	t.Run("NeverDeletesRoot", func(t *testing.T) {
		tree := newRecordingTree()
		leaf, err := Resolve(ctx, tree, "only")
		require.NoError(t, err)

		PruneUpward(ctx, tree, leaf, discardLogger())
		assert.Equal(t, []string{"/only/"}, tree.deleted)

		PruneUpward(ctx, tree, tree.RootFolder(), discardLogger())
		assert.Equal(t, []string{"/only/"}, tree.deleted)
	})

	t.Run("BackendErrorSwallowed", func(t *testing.T) {
		tree := newRecordingTree()
		c, err := Resolve(ctx, tree, "a/b/c")
		require.NoError(t, err)
		tree.countErrFor = "/a/b/"

		assert.NotPanics(t, func() { PruneUpward(ctx, tree, c, discardLogger()) })
		assert.Equal(t, []string{"/a/b/c/"}, tree.deleted)

		ok, err := tree.HasFolderInFolder(ctx, "b", storage.FolderAt("/a/"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("VanishedFolderDoesNotStopWalk", func(t *testing.T) {
		tree := newRecordingTree()
		c, err := Resolve(ctx, tree, "a/b/c")
		require.NoError(t, err)
		tree.vanishFor = "/a/b/c/"

		PruneUpward(ctx, tree, c, discardLogger())

		assert.Equal(t, []string{"/a/b/", "/a/"}, tree.deleted)
	})

	t.Run("MissingFolderIsQuiet", func(t *testing.T) {
		tree := newRecordingTree()
		PruneUpward(ctx, tree, storage.FolderAt("/ghost/"), discardLogger())
		assert.Empty(t, tree.deleted)
	})
}

func TestResolveCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("ReportsOnlyNewFolders", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := Resolve(ctx, tree, "a")
		require.NoError(t, err)

		f, created, err := ResolveCreated(ctx, tree, "a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "/a/b/c/", f.Identifier)
		require.Len(t, created, 2)
		assert.Equal(t, "/a/b/", created[0].Identifier)
		assert.Equal(t, "/a/b/c/", created[1].Identifier)
	})

	t.Run("ExistingPathCreatesNothing", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := Resolve(ctx, tree, "x/y")
		require.NoError(t, err)

		_, created, err := ResolveCreated(ctx, tree, "x/y")
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("PartialChainReturnedOnError", func(t *testing.T) {
		tree := newRecordingTree()
		tree.createErrFor = "locked"
		_, created, err := ResolveCreated(ctx, tree, "open/locked")
		require.ErrorIs(t, err, apperr.ErrPermissionDenied)
		require.Len(t, created, 1)
		assert.Equal(t, "/open/", created[0].Identifier)
	})
}

func TestPruneCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("RemovesCreatedChainOnly", func(t *testing.T) {
		tree := newRecordingTree()
		// projects/keep exists and is empty before the call.
		_, err := Resolve(ctx, tree, "projects/keep")
		require.NoError(t, err)

		_, created, err := ResolveCreated(ctx, tree, "projects/keep/new/deeper")
		require.NoError(t, err)

		PruneCreated(ctx, tree, created, discardLogger())

		assert.Equal(t, []string{"/projects/keep/new/deeper/", "/projects/keep/new/"}, tree.deleted)
		ok, err := tree.HasFolderInFolder(ctx, "keep", storage.FolderAt("/projects/"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("NothingCreatedNothingDeleted", func(t *testing.T) {
		tree := newRecordingTree()
		_, err := Resolve(ctx, tree, "projects/keep")
		require.NoError(t, err)

		PruneCreated(ctx, tree, nil, discardLogger())
		assert.Empty(t, tree.deleted)
	})

	t.Run("StopsAtNonEmptyCreatedFolder", func(t *testing.T) {
		tree := newRecordingTree()
		_, created, err := ResolveCreated(ctx, tree, "m/n")
		require.NoError(t, err)
		_, err = tree.Put(ctx, storage.FolderAt("/m/"), "f.txt", strings.NewReader("x"))
		require.NoError(t, err)

		PruneCreated(ctx, tree, created, discardLogger())
		assert.Equal(t, []string{"/m/n/"}, tree.deleted)
	})
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	tree := newRecordingTree()
	_, err := Resolve(ctx, tree, "a/b")
	require.NoError(t, err)
	tree.created = nil

	f, err := Lookup(ctx, tree, "/a//b/")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/", f.Identifier)

	root, err := Lookup(ctx, tree, "")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	_, err = Lookup(ctx, tree, "a/missing/deeper")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, err, apperr.ErrFolderNotFound)
	assert.Empty(t, tree.created)
}
