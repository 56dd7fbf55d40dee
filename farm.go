package bbp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// farmPath composes <farmDir>/<subdir>/<name>.<ext> using the platform
// path separator. An empty ext omits the dot. name must not be an absolute
// path; persisted BBP.dir stems are always relative.
func farmPath(farmDir, subdir, name, ext string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%s: %w", name, ErrAbsoluteName)
	}
	if ext == "" {
		return filepath.Join(farmDir, subdir, name), nil
	}
	return filepath.Join(farmDir, subdir, name+"."+ext), nil
}

// openReadOnly opens path strictly for reading. Any code path in this
// loader that would open for writing or truncate is a programming error.
func openReadOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

var sepReplacer = strings.NewReplacer(
	"/", string(filepath.Separator),
	`\`, string(filepath.Separator),
)

// normalizeSeparators converts persisted '/' or '\' separators inside a
// catalog filename stem to the platform separator before use.
func normalizeSeparators(stem string) string {
	if filepath.Separator == '/' {
		return strings.ReplaceAll(stem, `\`, "/")
	}
	return sepReplacer.Replace(stem)
}
