package catalog

import "time"

// Catalog defines the file catalog operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type Catalog interface {
	UpsertFile(f FileRow) (int64, error)
	GetFile(uid int64) (*FileRow, error)
	FindFile(storageUID int, identifier string) (*FileRow, error)
	UpdateLocation(uid int64, identifier, name, extension string, modifiedAt time.Time) error
	DeleteFile(uid int64) error
	DeleteByIdentifier(storageUID int, identifier string) (int64, error)
	DeleteUnder(storageUID int, folderIdentifier string) ([]int64, error)
	AllFiles(storageUID int) (map[string]FileRow, error)
	GetMetadata(uid int64) (Metadata, error)
	SaveMetadata(uid int64, m Metadata) error
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
