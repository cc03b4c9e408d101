package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

// Metadata record keys. The file is a Java properties file shared with
// older catalogs, so the key set and spelling are fixed.
const (
	keyName         = "name"
	keyUploadedBy   = "uploaded_by"
	keyUploadedUUID = "uploaded_uuid"
	keySlim         = "slim"
	keyWidth        = "width"
	keyHeight       = "height"
	keyChecksum     = "checksum"
	keyTimestamp    = "timestamp"
	keySelected     = "selected"
	keyFavorite     = "favorite"
	keySecondary    = "mouth_open"

	metaHeader     = "BBTSkin Metadata"
	metaDateLayout = "Mon Jan 02 15:04:05 MST 2006"
)

// File name conventions, all relative to the catalog directory.
const (
	metaExt         = ".meta"
	primaryExt      = ".png"
	secondarySuffix = "_mouth.png"
)

// Meta is the content of one metadata record.
type Meta struct {
	Name         string
	UploadedBy   string
	UploadedUUID string
	Slim         bool
	Width        int
	Height       int
	Checksum     string
	Timestamp    int64
	Selected     bool
	Favorite     bool
	Secondary    string // alternate image file name, empty when none
}

// readMeta parses the record at path. base is the storage key used for defaults.
func readMeta(path, base string) (Meta, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	m := Meta{
		Name:         p.GetString(keyName, base),
		UploadedBy:   p.GetString(keyUploadedBy, ""),
		UploadedUUID: p.GetString(keyUploadedUUID, ""),
		Slim:         flag(p, keySlim),
		Width:        p.GetInt(keyWidth, 64),
		Height:       p.GetInt(keyHeight, 64),
		Checksum:     p.GetString(keyChecksum, ""),
		Timestamp:    p.GetInt64(keyTimestamp, 0),
		Selected:     flag(p, keySelected),
		Favorite:     flag(p, keyFavorite),
	}
	if name, ok := p.Get(keySecondary); ok && name != "" {
		m.Secondary = name
	} else if _, err := os.Stat(filepath.Join(filepath.Dir(path), base+secondarySuffix)); err == nil {
		m.Secondary = base + secondarySuffix
	}
	return m, nil
}

// flag parses a boolean the way older catalogs wrote it: "true" in any case, anything else false.
func flag(p *properties.Properties, key string) bool {
	return strings.EqualFold(p.GetString(key, "false"), "true")
}

// writeMeta replaces the record at path. The temp-file rename keeps a reader
// from ever seeing a half-written record.
func writeMeta(path string, m Meta, now time.Time) error {
	var b bytes.Buffer
	b.WriteString("#" + metaHeader + "\n")
	b.WriteString("#" + now.Format(metaDateLayout) + "\n")
	put := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escapeValue(v))
		b.WriteByte('\n')
	}
	put(keyName, m.Name)
	put(keyUploadedBy, m.UploadedBy)
	put(keyUploadedUUID, m.UploadedUUID)
	put(keySlim, strconv.FormatBool(m.Slim))
	put(keyWidth, strconv.Itoa(m.Width))
	put(keyHeight, strconv.Itoa(m.Height))
	put(keyChecksum, m.Checksum)
	put(keyTimestamp, strconv.FormatInt(m.Timestamp, 10))
	put(keySelected, strconv.FormatBool(m.Selected))
	if m.Favorite {
		put(keyFavorite, "true")
	}
	if m.Secondary != "" {
		put(keySecondary, m.Secondary)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"=", `\=`,
	":", `\:`,
)

func escapeValue(v string) string { return valueEscaper.Replace(v) }
