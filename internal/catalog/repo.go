package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/filedesk/internal/apperr"
)

// FileRow represents a row in the files table.
type FileRow struct {
	UID        int64
	StorageUID int
	Identifier string
	Name       string
	Size       int64
	MimeType   string
	Extension  string
	Checksum   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

const fileColumns = `uid, storage_uid, identifier, name, size, mime_type, extension, checksum, created_at, modified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*FileRow, error) {
	var f FileRow
	if err := s.Scan(&f.UID, &f.StorageUID, &f.Identifier, &f.Name, &f.Size,
		&f.MimeType, &f.Extension, &f.Checksum, &f.CreatedAt, &f.ModifiedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFile inserts a file or refreshes the row already recorded for the
// same storage and identifier. The uid and creation time of an existing row
// are kept. Returns the uid.
func (db *DB) UpsertFile(f FileRow) (int64, error) {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.ModifiedAt.IsZero() {
		f.ModifiedAt = now
	}
	var uid int64
	err := db.conn.QueryRow(`
		INSERT INTO files (storage_uid, identifier, name, size, mime_type, extension, checksum, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(storage_uid, identifier) DO UPDATE SET
			name        = excluded.name,
			size        = excluded.size,
			mime_type   = excluded.mime_type,
			extension   = excluded.extension,
			checksum    = excluded.checksum,
			modified_at = excluded.modified_at
		RETURNING uid
	`, f.StorageUID, f.Identifier, f.Name, f.Size, f.MimeType, f.Extension, f.Checksum, f.CreatedAt, f.ModifiedAt).Scan(&uid)
	if err != nil {
		return 0, fmt.Errorf("catalog: upsert file: %w", err)
	}
	return uid, nil
}

// GetFile returns the row for uid or apperr.ErrNotFound.
func (db *DB) GetFile(uid int64) (*FileRow, error) {
	row := db.conn.QueryRow(`SELECT `+fileColumns+` FROM files WHERE uid = ?`, uid)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: file %d: %w", uid, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get file: %w", err)
	}
	return f, nil
}

// FindFile looks a file up by its location.
func (db *DB) FindFile(storageUID int, identifier string) (*FileRow, error) {
	row := db.conn.QueryRow(`SELECT `+fileColumns+` FROM files WHERE storage_uid = ? AND identifier = ?`, storageUID, identifier)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: file %s: %w", identifier, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: find file: %w", err)
	}
	return f, nil
}

// UpdateLocation records a rename or move; the uid stays the same. A row
// already recorded at the new identifier is dropped.
func (db *DB) UpdateLocation(uid int64, identifier, name, extension string, modifiedAt time.Time) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`
		DELETE FROM files
		WHERE storage_uid = (SELECT storage_uid FROM files WHERE uid = ?)
		  AND identifier = ? AND uid <> ?
	`, uid, identifier, uid); err != nil {
		return fmt.Errorf("catalog: clear target: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE files SET identifier = ?, name = ?, extension = ?, modified_at = ?
		WHERE uid = ?
	`, identifier, name, extension, modifiedAt, uid)
	if err != nil {
		return fmt.Errorf("catalog: update location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: file %d: %w", uid, apperr.ErrNotFound)
	}
	return tx.Commit()
}

// DeleteFile removes a file row and, by cascade, its metadata.
func (db *DB) DeleteFile(uid int64) error {
	if _, err := db.conn.Exec(`DELETE FROM files WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("catalog: delete file: %w", err)
	}
	return nil
}

// DeleteByIdentifier removes the row at a location and returns its uid, or
// 0 when nothing was recorded there.
func (db *DB) DeleteByIdentifier(storageUID int, identifier string) (int64, error) {
	f, err := db.FindFile(storageUID, identifier)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return f.UID, db.DeleteFile(f.UID)
}

// DeleteUnder removes every row whose identifier lies below folderIdentifier.
func (db *DB) DeleteUnder(storageUID int, folderIdentifier string) ([]int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	rows, err := tx.Query(`
		SELECT uid FROM files
		WHERE storage_uid = ? AND substr(identifier, 1, length(?)) = ?
	`, storageUID, folderIdentifier, folderIdentifier)
	if err != nil {
		return nil, fmt.Errorf("catalog: select under: %w", err)
	}
	var uids []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return nil, err
		}
		uids = append(uids, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, uid := range uids {
		if _, err := tx.Exec(`DELETE FROM files WHERE uid = ?`, uid); err != nil {
			return nil, fmt.Errorf("catalog: delete under: %w", err)
		}
	}
	return uids, tx.Commit()
}

// AllFiles returns every row of a storage keyed by identifier.
func (db *DB) AllFiles(storageUID int) (map[string]FileRow, error) {
	rows, err := db.conn.Query(`SELECT `+fileColumns+` FROM files WHERE storage_uid = ?`, storageUID)
	if err != nil {
		return nil, fmt.Errorf("catalog: all files: %w", err)
	}
	defer rows.Close()
	out := make(map[string]FileRow)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.Identifier] = *f
	}
	return out, rows.Err()
}
