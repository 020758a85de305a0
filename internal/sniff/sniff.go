// Package sniff detects content types of uploaded and indexed files.
package sniff

import (
	"bytes"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// headerSize is how much of a stream is buffered for detection.
const headerSize = 3072

// Reader detects the MIME type of r from its first bytes and returns a
// reader that still yields the full content.
func Reader(r io.Reader) (string, io.Reader, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	header = header[:n]
	mt := mimetype.Detect(header)
	return mt.String(), io.MultiReader(bytes.NewReader(header), r), nil
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// BaseType strips parameters such as "; charset=utf-8".
func BaseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		return strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
