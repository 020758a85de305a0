package resource

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/filedesk/internal/storage"
)

// DuplicationBehavior decides what happens when the target name is taken.
type DuplicationBehavior string

const (
	Replace DuplicationBehavior = "REPLACE"
	Rename  DuplicationBehavior = "RENAME"
	Cancel  DuplicationBehavior = "CANCEL"
)

// maxNumberedNames bounds the name_01 .. name_99 candidates tried before a
// random suffix is used.
const maxNumberedNames = 99

// ParseBehavior parses s case-insensitively. An empty s yields def; any
// other unknown value yields Rename.
func ParseBehavior(s string, def DuplicationBehavior) DuplicationBehavior {
	switch DuplicationBehavior(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return def
	case Replace:
		return Replace
	case Cancel:
		return Cancel
	default:
		return Rename
	}
}

// splitName splits "report.final.pdf" into "report.final" and ".pdf".
func splitName(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// uniqueName returns the first free name of the form base_NN.ext in folder.
func uniqueName(ctx context.Context, driver storage.Driver, folder storage.Folder, name string) (string, error) {
	base, ext := splitName(name)
	for i := 1; i <= maxNumberedNames; i++ {
		candidate := fmt.Sprintf("%s_%02d%s", base, i, ext)
		taken, err := driver.HasFile(ctx, folder.FileIdentifier(candidate))
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s_%s%s", base, uuid.NewString()[:8], ext), nil
}
