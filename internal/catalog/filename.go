package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscores = regexp.MustCompile(`_+`)
)

// sanitizeFilename turns a display name into a storage key.
func sanitizeFilename(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "skin"
	}
	return s
}

// freeBase returns the first of base, base_1, base_2, ... with no primary or meta file in dir.
func freeBase(dir, base string) string {
	candidate := base
	for i := 1; taken(dir, candidate); i++ {
		candidate = base + "_" + strconv.Itoa(i)
	}
	return candidate
}

func taken(dir, base string) bool {
	for _, ext := range []string{primaryExt, metaExt} {
		if _, err := os.Stat(filepath.Join(dir, base+ext)); err == nil {
			return true
		}
	}
	return false
}
