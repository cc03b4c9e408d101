// Package catalog is the file-backed library of the local user's assets.
//
// Every asset is stored as <key>.png, an optional <key>_mouth.png and a
// <key>.meta properties record in one directory. The in-memory view is
// rebuilt by a full directory scan on Load. At most one entry is selected
// at a time. A Catalog is not safe for concurrent use.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

// Owner identifies the local user recorded as uploader of imported assets.
type Owner struct {
	Name string
	ID   string
}

// Entry is one catalogued asset.
type Entry struct {
	ID string
	Meta
	Key           string // storage key shared by the entry's files
	PrimaryPath   string
	SecondaryPath string // empty when the entry has no alternate image
	MetaPath      string
}

// HasSecondary reports whether the entry has an alternate image.
func (e Entry) HasSecondary() bool { return e.SecondaryPath != "" }

// ImportRequest describes a new asset to add to the catalog.
type ImportRequest struct {
	Name      string
	Primary   []byte
	Width     int
	Height    int
	Slim      bool
	Secondary []byte
}

// Filter narrows List results.
type Filter struct {
	Query         string // case-insensitive substring of the display name
	FavoritesOnly bool
}

// Catalog is the in-memory view of one catalog directory.
type Catalog struct {
	dir      string
	owner    Owner
	maxRes   int
	log      *zap.Logger
	entries  map[string]*Entry
	dups     map[string][]*Entry // records hidden behind an entry with identical content
	selected string
	now      func() time.Time
}

// New opens (creating if needed) the catalog directory. Call Load to read it.
func New(dir string, owner Owner, maxRes int, log *zap.Logger) (*Catalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog dir: %w", errs.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		dir:     dir,
		owner:   owner,
		maxRes:  maxRes,
		log:     log,
		entries: map[string]*Entry{},
		dups:    map[string][]*Entry{},
		now:     time.Now,
	}, nil
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string { return c.dir }

// Len returns the number of loaded entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Load rescans the directory and replaces the in-memory view. Records are
// visited in file name order; when several claim selection the last one
// wins and the others are rewritten as deselected.
func (c *Catalog) Load() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan catalog: %w", err)
	}

	c.entries = make(map[string]*Entry, len(files))
	c.dups = map[string][]*Entry{}
	c.selected = ""
	var selected []*Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), metaExt) {
			continue
		}
		e, err := c.loadEntry(f.Name())
		if err != nil {
			c.log.Warn("skip catalog record", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		c.add(e)
		if e.Selected {
			selected = append(selected, e)
		}
	}

	// add never hides a selected record behind an earlier one, so the last
	// claimant is always the visible entry for its id
	var winner *Entry
	if len(selected) > 0 {
		winner = selected[len(selected)-1]
		c.selected = winner.ID
	}
	for _, e := range selected {
		if e == winner {
			continue
		}
		e.Selected = false
		if err := c.save(e); err != nil {
			c.log.Warn("clear extra selection", zap.String("id", e.ID), zap.Error(err))
		}
	}
	c.log.Debug("catalog loaded", zap.Int("entries", len(c.entries)), zap.String("selected", c.selected))
	return nil
}

// add makes e the visible entry for its id unless the current one is
// selected and e is not. The other record is kept as a duplicate.
func (c *Catalog) add(e *Entry) {
	cur, ok := c.entries[e.ID]
	if !ok {
		c.entries[e.ID] = e
		return
	}
	if cur.Selected && !e.Selected {
		c.dups[e.ID] = append(c.dups[e.ID], e)
		return
	}
	c.dups[e.ID] = append(c.dups[e.ID], cur)
	c.entries[e.ID] = e
}

func (c *Catalog) loadEntry(metaName string) (*Entry, error) {
	key := strings.TrimSuffix(metaName, metaExt)
	metaPath := filepath.Join(c.dir, metaName)
	primary := filepath.Join(c.dir, key+primaryExt)
	if _, err := os.Stat(primary); err != nil {
		return nil, fmt.Errorf("primary image: %w", err)
	}
	m, err := readMeta(metaPath, key)
	if err != nil {
		return nil, err
	}

	e := &Entry{Meta: m, Key: key, PrimaryPath: primary, MetaPath: metaPath}
	if m.Secondary != "" {
		e.SecondaryPath = filepath.Join(c.dir, m.Secondary)
	}
	if m.Checksum != "" {
		e.ID = model.IDFromChecksum(m.Checksum)
	} else {
		e.ID = key
	}
	return e, nil
}

// Import validates and writes a new asset, then adds it to the catalog.
func (c *Catalog) Import(req ImportRequest) (Entry, error) {
	if _, err := model.NewAsset(model.AssetConfig{
		Name: req.Name, Width: req.Width, Height: req.Height,
		Slim: req.Slim, Primary: req.Primary, Secondary: req.Secondary,
	}); err != nil {
		return Entry{}, fmt.Errorf("import %q: %w", req.Name, err)
	}
	if err := model.CheckDimensions(req.Width, req.Height, c.maxRes); err != nil {
		return Entry{}, fmt.Errorf("import %q: %w", req.Name, err)
	}

	key := freeBase(c.dir, sanitizeFilename(req.Name))
	e := &Entry{
		Key:         key,
		PrimaryPath: filepath.Join(c.dir, key+primaryExt),
		MetaPath:    filepath.Join(c.dir, key+metaExt),
	}
	if err := os.WriteFile(e.PrimaryPath, req.Primary, 0o644); err != nil {
		return Entry{}, fmt.Errorf("write primary image: %w", err)
	}
	written, err := os.ReadFile(e.PrimaryPath)
	if err != nil {
		c.removeFiles(e)
		return Entry{}, fmt.Errorf("read back primary image: %w", err)
	}

	e.Meta = Meta{
		Name:         req.Name,
		UploadedBy:   c.owner.Name,
		UploadedUUID: c.owner.ID,
		Slim:         req.Slim,
		Width:        req.Width,
		Height:       req.Height,
		Checksum:     model.Checksum(written),
		Timestamp:    c.now().UnixMilli(),
	}
	if len(req.Secondary) > 0 {
		e.Secondary = key + secondarySuffix
		e.SecondaryPath = filepath.Join(c.dir, e.Secondary)
		if err := os.WriteFile(e.SecondaryPath, req.Secondary, 0o644); err != nil {
			c.removeFiles(e)
			return Entry{}, fmt.Errorf("write secondary image: %w", err)
		}
	}
	if err := c.save(e); err != nil {
		c.removeFiles(e)
		return Entry{}, fmt.Errorf("write metadata: %w", err)
	}

	e.ID = model.IDFromChecksum(e.Checksum)
	c.add(e)
	c.log.Info("asset imported", zap.String("id", e.ID), zap.String("key", key), zap.String("name", e.Name))
	return *e, nil
}

// Select makes id the only selected entry. A failure to persist the
// previous entry's deselection is logged and does not stop the selection.
// A failure to persist the new selection is returned and the target stays
// unselected in memory.
func (c *Catalog) Select(id string) error {
	target, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("select %s: %w", id, errs.ErrNotFound)
	}
	if c.selected == id && target.Selected {
		return nil
	}

	if prev, ok := c.entries[c.selected]; ok {
		prev.Selected = false
		if err := c.save(prev); err != nil {
			c.log.Warn("persist deselect; disk still marks entry selected",
				zap.String("id", prev.ID), zap.Error(err))
		}
	}
	c.selected = ""

	target.Selected = true
	if err := c.save(target); err != nil {
		target.Selected = false
		return fmt.Errorf("persist selection of %s: %w", id, err)
	}
	c.selected = id
	return nil
}

// DeselectAll clears the selection. The in-memory selection is cleared even
// when persisting fails; the error is returned.
func (c *Catalog) DeselectAll() error {
	prev, ok := c.entries[c.selected]
	c.selected = ""
	if !ok {
		return nil
	}
	prev.Selected = false
	if err := c.save(prev); err != nil {
		return fmt.Errorf("persist deselect of %s: %w", prev.ID, err)
	}
	return nil
}

// Delete removes an unselected entry and its files, including every
// duplicate record with the same content.
func (c *Catalog) Delete(id string) error {
	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, errs.ErrNotFound)
	}
	if e.Selected || c.selected == id {
		return fmt.Errorf("delete %s: %w", id, errs.ErrSelected)
	}
	if err := os.Remove(e.MetaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	c.removeFiles(e)
	for _, d := range c.dups[id] {
		c.removeFiles(d)
	}
	delete(c.entries, id)
	delete(c.dups, id)
	c.log.Info("asset deleted", zap.String("id", id))
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (c *Catalog) ToggleFavorite(id string) (bool, error) {
	e, ok := c.entries[id]
	if !ok {
		return false, fmt.Errorf("favorite %s: %w", id, errs.ErrNotFound)
	}
	e.Favorite = !e.Favorite
	if err := c.save(e); err != nil {
		e.Favorite = !e.Favorite
		return e.Favorite, fmt.Errorf("persist favorite of %s: %w", id, err)
	}
	return e.Favorite, nil
}

// List returns matching entries sorted by display name, case-insensitively.
func (c *Catalog) List(f Filter) []Entry {
	q := strings.ToLower(f.Query)
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if f.FavoritesOnly && !e.Favorite {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Name), q) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the entry with id.
func (c *Catalog) Get(id string) (Entry, error) {
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}
	return *e, nil
}

// FindByName resolves a display name (case-insensitive) or an id.
func (c *Catalog) FindByName(name string) (Entry, error) {
	if e, ok := c.entries[name]; ok {
		return *e, nil
	}
	for _, e := range c.List(Filter{}) {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
}

// Selected returns the selected entry, if any.
func (c *Catalog) Selected() (Entry, bool) {
	e, ok := c.entries[c.selected]
	if !ok || !e.Selected {
		return Entry{}, false
	}
	return *e, true
}

// Asset reads the entry's images into a SkinAsset.
func (c *Catalog) Asset(id string) (model.SkinAsset, error) {
	e, ok := c.entries[id]
	if !ok {
		return model.SkinAsset{}, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}
	primary, err := os.ReadFile(e.PrimaryPath)
	if err != nil {
		return model.SkinAsset{}, fmt.Errorf("read primary image: %w", err)
	}
	var secondary []byte
	if e.SecondaryPath != "" {
		secondary, err = os.ReadFile(e.SecondaryPath)
		if err != nil {
			return model.SkinAsset{}, fmt.Errorf("read secondary image: %w", err)
		}
	}
	return model.NewAsset(model.AssetConfig{
		ID:        e.ID,
		Name:      e.Name,
		Width:     e.Width,
		Height:    e.Height,
		Slim:      e.Slim,
		OwnerID:   e.UploadedUUID,
		CreatedAt: e.Timestamp,
		Primary:   primary,
		Secondary: secondary,
	})
}

func (c *Catalog) save(e *Entry) error {
	return writeMeta(e.MetaPath, e.Meta, c.now())
}

func (c *Catalog) removeFiles(e *Entry) {
	for _, p := range []string{e.PrimaryPath, e.SecondaryPath, e.MetaPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("remove catalog file", zap.String("path", p), zap.Error(err))
		}
	}
}
