package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/filedesk/internal/storage"
)

// watcherTestEnv sets up a storage dir, FS driver, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, *storage.FS, *DB) {
	t.Helper()
	dir := t.TempDir()
	fsd, err := storage.NewFS(dir)
	require.NoError(t, err)
	return dir, fsd, testDB(t)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(kind string, _ int64, identifier string) {
	l.mu.Lock()
	l.events = append(l.events, kind+":"+identifier)
	l.mu.Unlock()
}

func (l *eventLog) has(want string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == want {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, db *DB, fsd *storage.FS, dir string) *eventLog {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := &eventLog{}
	go Watch(ctx, db, 1, fsd, dir, quietLogger(), log.record)
	time.Sleep(100 * time.Millisecond)
	return log
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	dir, fsd, db := watcherTestEnv(t)
	log := startWatcher(t, db, fsd, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh"), 0o644))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := db.FindFile(1, "/new.txt")
		return err == nil
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has("created:/new.txt")
	}, "expected created event for /new.txt")
}

func TestWatcher_DeletedFileRemoved(t *testing.T) {
	dir, fsd, db := watcherTestEnv(t)
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))
	require.NoError(t, Sync(context.Background(), db, 1, fsd, quietLogger()))

	log := startWatcher(t, db, fsd, dir)
	require.NoError(t, os.Remove(path))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := db.FindFile(1, "/gone.txt")
		return err != nil
	}, "deleted file still indexed")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has("deleted:/gone.txt")
	}, "expected deleted event for /gone.txt")
}

func TestWatcher_NewDirectoryWatched(t *testing.T) {
	dir, fsd, db := watcherTestEnv(t)
	startWatcher(t, db, fsd, dir)

	sub := filepath.Join(dir, "incoming")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "late.txt"), []byte("x"), 0o644))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := db.FindFile(1, "/incoming/late.txt")
		return err == nil
	}, "file in new directory not indexed")
}

func TestWatcher_UnchangedFileKeepsUID(t *testing.T) {
	dir, fsd, db := watcherTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("same"), 0o644))
	require.NoError(t, Sync(context.Background(), db, 1, fsd, quietLogger()))
	before, err := db.FindFile(1, "/keep.txt")
	require.NoError(t, err)

	log := startWatcher(t, db, fsd, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("o"), 0o644))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return log.has("created:/other.txt")
	}, "expected created event for /other.txt")

	after, err := db.FindFile(1, "/keep.txt")
	require.NoError(t, err)
	require.Equal(t, before.UID, after.UID)
	require.False(t, log.has("updated:/keep.txt"))
}
