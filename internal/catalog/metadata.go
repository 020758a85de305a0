package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MetadataFields lists the metadata keys clients may change.
var MetadataFields = []string{"title", "description", "alternative", "keywords", "copyright"}

// Metadata is the editable metadata record of a file.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Alternative string `json:"alternative"`
	Keywords    string `json:"keywords"`
	Copyright   string `json:"copyright"`
}

// Apply copies the whitelisted keys of fields into m and ignores the rest.
// It reports whether any whitelisted key was present.
func (m *Metadata) Apply(fields map[string]any) bool {
	applied := false
	for _, key := range MetadataFields {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString {
			s = fmt.Sprint(v)
		}
		switch key {
		case "title":
			m.Title = s
		case "description":
			m.Description = s
		case "alternative":
			m.Alternative = s
		case "keywords":
			m.Keywords = s
		case "copyright":
			m.Copyright = s
		}
		applied = true
	}
	return applied
}

// GetMetadata returns the metadata of a file; a file without a record has
// empty metadata.
func (db *DB) GetMetadata(uid int64) (Metadata, error) {
	var m Metadata
	err := db.conn.QueryRow(`
		SELECT title, description, alternative, keywords, copyright
		FROM file_metadata WHERE file_uid = ?
	`, uid).Scan(&m.Title, &m.Description, &m.Alternative, &m.Keywords, &m.Copyright)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("catalog: get metadata: %w", err)
	}
	return m, nil
}

// SaveMetadata stores the metadata record of a file.
func (db *DB) SaveMetadata(uid int64, m Metadata) error {
	_, err := db.conn.Exec(`
		INSERT INTO file_metadata (file_uid, title, description, alternative, keywords, copyright, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_uid) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			alternative = excluded.alternative,
			keywords    = excluded.keywords,
			copyright   = excluded.copyright,
			updated_at  = excluded.updated_at
	`, uid, m.Title, m.Description, m.Alternative, m.Keywords, m.Copyright, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: save metadata: %w", err)
	}
	return nil
}
