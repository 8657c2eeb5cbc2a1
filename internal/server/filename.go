package server

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var errInvalidName = errors.New("invalid file name")

// fixFilenameEncoding repairs client filenames whose UTF-8 bytes arrived
// as individual Latin-1 characters ("cafÃ©.txt" for "café.txt"). Names
// that are raw Latin-1 bytes are decoded to UTF-8. Anything else is
// returned unchanged.
func fixFilenameEncoding(name string) string {
	if !utf8.ValidString(name) {
		decoded, err := charmap.ISO8859_1.NewDecoder().String(name)
		if err != nil {
			return name
		}
		return decoded
	}

	high := false
	for _, r := range name {
		if r > 0xFF {
			return name
		}
		if r >= 0x80 {
			high = true
		}
	}
	if !high {
		return name
	}

	raw, err := charmap.ISO8859_1.NewEncoder().String(name)
	if err != nil || !utf8.ValidString(raw) {
		return name
	}
	return raw
}

// resolveDestination joins name onto root and rejects any result that is
// root itself, escapes root, or lands in the scratch directory.
func resolveDestination(root, tempDir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", errInvalidName
	}

	dest := filepath.Join(root, name)
	if !within(root, dest) {
		return "", errInvalidName
	}
	if tempDir != "" && (dest == tempDir || within(tempDir, dest)) {
		return "", errInvalidName
	}
	return dest, nil
}

// within reports whether p lies strictly below dir. Both must be clean
// absolute paths.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
