package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	fuzzyfinder "github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/and161185/skin-sync/internal/catalog"
)

func newSkinCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "skin",
		Short:   "Manage the local skin catalog",
		Aliases: []string{"skins"},
	}
	cmd.AddCommand(
		newSkinImportCmd(o),
		newSkinListCmd(o),
		newSkinSelectCmd(o),
		newSkinDeselectCmd(o),
		newSkinFavoriteCmd(o),
		newSkinDeleteCmd(o),
		newSkinShowCmd(o),
	)
	return cmd
}

// pngSize reads the image header of b.
func pngSize(b []byte) (int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image: %w", err)
	}
	if format != "png" {
		return 0, 0, fmt.Errorf("unsupported image format %q", format)
	}
	return cfg.Width, cfg.Height, nil
}

func newSkinImportCmd(o *options) *cobra.Command {
	var (
		name      string
		slim      bool
		secondary string
	)
	cmd := &cobra.Command{
		Use:   "import <file.png>",
		Short: "Add a PNG skin to the catalog",
		Long: `Add a PNG skin to the catalog.

Examples:
  skinsync skin import steve.png
  skinsync skin import alex.png --slim --name "Alex"
  skinsync skin import face.png --secondary face_mouth.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			primary, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			w, h, err := pngSize(primary)
			if err != nil {
				return err
			}
			var sec []byte
			if secondary != "" {
				if sec, err = os.ReadFile(secondary); err != nil {
					return err
				}
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			e, err := c.Import(catalog.ImportRequest{
				Name: name, Primary: primary, Width: w, Height: h, Slim: slim, Secondary: sec,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess(fmt.Sprintf("imported %s (%s, %dx%d)", e.Name, e.ID, e.Width, e.Height)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (file name when empty)")
	cmd.Flags().BoolVar(&slim, "slim", false, "slim arm model")
	cmd.Flags().StringVar(&secondary, "secondary", "", "alternate (mouth) image")
	return cmd
}

func check(b bool) string {
	if b {
		return IconSuccess
	}
	return ""
}

func newSkinListCmd(o *options) *cobra.Command {
	var f catalog.Filter
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List catalogued skins",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			entries := c.List(f)
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), FormatWarning("no skins found"))
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.ID, e.Name,
					fmt.Sprintf("%dx%d", e.Width, e.Height),
					check(e.Slim), check(e.HasSecondary()), check(e.Favorite), check(e.Selected),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "NAME", "SIZE", "SLIM", "MOUTH", "FAV", "SELECTED"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "name substring")
	cmd.Flags().BoolVarP(&f.FavoritesOnly, "favorites", "f", false, "favorites only")
	return cmd
}

// pick resolves args[0] as an id or name, or asks interactively when args is empty.
func pick(c *catalog.Catalog, args []string) (catalog.Entry, error) {
	if len(args) > 0 {
		return c.FindByName(args[0])
	}
	entries := c.List(catalog.Filter{})
	switch len(entries) {
	case 0:
		return catalog.Entry{}, errors.New("catalog is empty")
	case 1:
		return entries[0], nil
	}
	idx, err := fuzzyfinder.Find(
		entries,
		func(i int) string { return entries[i].Name },
		fuzzyfinder.WithPreviewWindow(func(i, _, _ int) string {
			if i == -1 {
				return ""
			}
			return describe(entries[i])
		}),
	)
	if err != nil {
		return catalog.Entry{}, err
	}
	return entries[idx], nil
}

func describe(e catalog.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", StyleTitle.Render(e.Name))
	fmt.Fprintf(&b, "id:        %s\n", e.ID)
	fmt.Fprintf(&b, "size:      %dx%d\n", e.Width, e.Height)
	fmt.Fprintf(&b, "slim:      %s\n", strconv.FormatBool(e.Slim))
	fmt.Fprintf(&b, "mouth:     %s\n", strconv.FormatBool(e.HasSecondary()))
	fmt.Fprintf(&b, "favorite:  %s\n", strconv.FormatBool(e.Favorite))
	fmt.Fprintf(&b, "selected:  %s\n", strconv.FormatBool(e.Selected))
	if e.UploadedBy != "" {
		fmt.Fprintf(&b, "uploader:  %s %s\n", e.UploadedBy, StyleMuted.Render(e.UploadedUUID))
	}
	if e.Timestamp > 0 {
		fmt.Fprintf(&b, "imported:  %s\n", time.UnixMilli(e.Timestamp).Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "checksum:  %s\n", StyleMuted.Render(e.Checksum))
	return b.String()
}

func newSkinSelectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "select [id|name]",
		Short: "Make a skin the one shared with others",
		Long: `Make a skin the one shared with others. Without an argument an
interactive finder lists the catalog.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			e, err := pick(c, args)
			if err != nil {
				return err
			}
			if err := c.Select(e.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess("selected "+e.Name))
			return nil
		},
	}
}

func newSkinDeselectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deselect",
		Short: "Stop sharing any skin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			if err := c.DeselectAll(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess("no skin selected"))
			return nil
		},
	}
}

func newSkinFavoriteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "favorite <id|name>",
		Short:   "Toggle the favorite flag",
		Aliases: []string{"fav"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			e, err := c.FindByName(args[0])
			if err != nil {
				return err
			}
			on, err := c.ToggleFavorite(e.ID)
			if err != nil {
				return err
			}
			msg := "unmarked " + e.Name
			if on {
				msg = "marked " + e.Name + " as favorite"
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess(msg))
			return nil
		},
	}
}

func newSkinDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id|name>",
		Short:   "Remove a skin and its files",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			e, err := c.FindByName(args[0])
			if err != nil {
				return err
			}
			if err := c.Delete(e.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess("deleted "+e.Name))
			return nil
		},
	}
}

func newSkinShowCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|name]",
		Short: "Show one skin; the selected one when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.openCatalog()
			if err != nil {
				return err
			}
			var e catalog.Entry
			if len(args) == 0 {
				var ok bool
				if e, ok = c.Selected(); !ok {
					fmt.Fprintln(cmd.OutOrStdout(), FormatInfo("no skin selected"))
					return nil
				}
			} else if e, err = c.FindByName(args[0]); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), describe(e))
			return nil
		},
	}
}
