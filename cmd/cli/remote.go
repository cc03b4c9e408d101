package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/skin-sync/internal/catalog"
	"github.com/and161185/skin-sync/internal/client"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/wire"
)

const rpcTimeout = 30 * time.Second

// canceled reports whether err is the stream ending because we cancelled it.
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled)
}

// sharer keeps the coordinator in step with the catalog's selection.
type sharer struct {
	mu   sync.Mutex
	cat  *catalog.Catalog
	sess *client.Session
	out  io.Writer
	log  *zap.Logger
	last string // checksum of the last uploaded asset
}

// sync uploads the selected asset when it changed since the last call and
// resets when a previously shared asset is no longer selected.
func (s *sharer) sync(rescan bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rescan {
		if err := s.cat.Load(); err != nil {
			return err
		}
	}
	e, ok := s.cat.Selected()
	switch {
	case !ok && s.last != "":
		if err := s.sess.Reset(); err != nil {
			return err
		}
		s.last = ""
		fmt.Fprintln(s.out, FormatInfo("selection cleared"))
		return nil
	case !ok, e.Checksum == s.last:
		return nil
	}
	a, err := s.cat.Asset(e.ID)
	if err != nil {
		return err
	}
	n, err := s.sess.Upload(a)
	if err != nil {
		return err
	}
	s.last = e.Checksum
	s.log.Debug("uploaded", zap.String("id", a.ID), zap.Int("messages", n))
	fmt.Fprintln(s.out, FormatSuccess(fmt.Sprintf("sharing %s", e.Name)))
	return nil
}

// printer reports peer changes, serialising writes from the receive loop.
func printer(out io.Writer) func(owner string, a *model.SkinAsset) {
	var mu sync.Mutex
	return func(owner string, a *model.SkinAsset) {
		mu.Lock()
		defer mu.Unlock()
		if a == nil {
			fmt.Fprintf(out, "%s %s\n", StyleMuted.Render(owner), "cleared")
			return
		}
		fmt.Fprintf(out, "%s %s %s\n", StyleMuted.Render(owner), StyleTitle.Render(a.Name),
			StyleMuted.Render(fmt.Sprintf("%dx%d", a.Width, a.Height)))
	}
}

func newSessionCmd(o *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Join the coordinator, share the selected skin and print everyone else's",
		Long: `Join the coordinator, share the selected skin and print everyone else's.
With --watch, changes to the catalog directory (for example "skinsync skin select"
from another terminal) are shared as they happen. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := o.logger()
			cat, err := o.openCatalog()
			if err != nil {
				return err
			}
			conn, err := o.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			sess, err := conn.Open(sctx, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sh := &sharer{cat: cat, sess: sess, out: out, log: log}
			if err := sh.sync(false); err != nil {
				return err
			}

			var g errgroup.Group
			g.Go(func() error {
				defer cancel()
				return sess.Receive(client.NewPeers(printer(out)))
			})
			if watch {
				g.Go(func() error {
					defer cancel()
					return client.WatchDir(sctx, cat.Dir(), client.DefaultDebounce, log, func() {
						if err := sh.sync(true); err != nil {
							log.Warn("share failed", zap.Error(err))
						}
					})
				})
			}
			err = g.Wait()
			if err != nil && canceled(ctx, err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "share selection changes as they happen")
	return cmd
}

// awaitOwner is a Handler that delivers the first event for one owner.
type awaitOwner struct {
	owner string
	got   chan *model.SkinAsset
	once  sync.Once
}

func (h *awaitOwner) deliver(a *model.SkinAsset) {
	h.once.Do(func() { h.got <- a })
}

func (h *awaitOwner) OnSkin(owner string, a model.SkinAsset) {
	if owner == h.owner {
		h.deliver(&a)
	}
}

func (h *awaitOwner) OnCleared(owner string) {
	if owner == h.owner {
		h.deliver(nil)
	}
}

func newRequestCmd(o *options) *cobra.Command {
	var (
		wait time.Duration
		save string
	)
	cmd := &cobra.Command{
		Use:   "request <participant>",
		Short: "Fetch one participant's current skin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := o.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			sess, err := conn.Open(ctx, o.logger())
			if err != nil {
				return err
			}
			h := &awaitOwner{owner: args[0], got: make(chan *model.SkinAsset, 1)}
			go func() { _ = sess.Receive(h) }()
			if err := sess.Request(args[0]); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			select {
			case a := <-h.got:
				if a == nil {
					fmt.Fprintln(out, FormatInfo(args[0]+" has no skin"))
					return nil
				}
				printer(out)(args[0], a)
				if save != "" {
					if err := os.WriteFile(save, a.Primary, 0o644); err != nil {
						return err
					}
					fmt.Fprintln(out, FormatSuccess("saved "+save))
				}
				return nil
			case <-ctx.Done():
				fmt.Fprintln(out, FormatWarning("no answer for "+args[0]))
				return nil
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the answer")
	cmd.Flags().StringVarP(&save, "output", "o", "", "write the primary image to this file")
	return cmd
}

type discard struct{}

func (discard) OnSkin(string, model.SkinAsset) {}
func (discard) OnCleared(string)               {}

func newResetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear your shared skin for everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := o.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
			defer cancel()
			sess, err := conn.Open(ctx, o.logger())
			if err != nil {
				return err
			}
			if err := sess.Reset(); err != nil {
				return err
			}
			if err := sess.CloseSend(); err != nil {
				return err
			}
			// the server ends the stream once it has handled everything we sent
			if err := sess.Receive(discard{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), FormatSuccess("skin cleared"))
			return nil
		},
	}
}

func newAdminCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Coordinator maintenance (admin token required)",
	}

	unary := func(run func(ctx context.Context, api *wire.Client, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			conn, err := o.dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
			defer cancel()
			return run(ctx, conn.API, cmd.OutOrStdout())
		}
	}

	resync := &cobra.Command{
		Use:   "resync [participant]",
		Short: "Re-send one participant's skin, or every cached skin, to everyone",
		Args:  cobra.MaximumNArgs(1),
	}
	resync.RunE = func(cmd *cobra.Command, args []string) error {
		req := &wire.ResyncRequest{}
		if len(args) == 1 {
			req.Participant = args[0]
		}
		return unary(func(ctx context.Context, api *wire.Client, out io.Writer) error {
			resp, err := api.Resync(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, FormatSuccess(fmt.Sprintf("resync sent %d messages", resp.Sent)))
			return nil
		})(cmd, args)
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator counters",
		Args:  cobra.NoArgs,
		RunE: unary(func(ctx context.Context, api *wire.Client, out io.Writer) error {
			resp, err := api.Status(ctx, &wire.StatusRequest{})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable([]string{"CACHED", "PARTICIPANTS", "PENDING JOINS", "PERSISTENCE"},
				[][]string{{
					fmt.Sprint(resp.Cached), fmt.Sprint(resp.Participants),
					fmt.Sprint(resp.PendingJoins), check(resp.Persistence),
				}}))
			return nil
		}),
	}

	reload := &cobra.Command{
		Use:   "reload",
		Short: "Reload the cache from the durable store and resync everyone",
		Args:  cobra.NoArgs,
		RunE: unary(func(ctx context.Context, api *wire.Client, out io.Writer) error {
			resp, err := api.Reload(ctx, &wire.ReloadRequest{})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, FormatSuccess(fmt.Sprintf("loaded %d records, sent %d messages", resp.Loaded, resp.Sent)))
			return nil
		}),
	}

	cmd.AddCommand(resync, statusCmd, reload)
	return cmd
}
