// Command skinsync is the command-line client for skin-sync: it manages the
// local skin catalog and talks to the coordinator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/skin-sync/internal/catalog"
	"github.com/and161185/skin-sync/internal/client"
	"github.com/and161185/skin-sync/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// options holds the persistent flags shared by every command.
type options struct {
	addr      string
	caCert    string
	insecure  bool
	plaintext bool
	token     string
	dir       string
	user      string
	maxRes    int
	debug     bool

	dialOpts []grpc.DialOption // appended to every dial; tests inject bufconn here
}

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "skinsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "skinsync")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `skinsync token --save`)")
	}
	return tf.AccessToken, nil
}

// participantFromToken reads the subject without verifying the signature;
// the coordinator is the one that checks it.
func participantFromToken(tok string) string {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func defaultDir() string {
	if v := os.Getenv("SKINSYNC_DIR"); v != "" {
		return v
	}
	return filepath.Join(cfgDir(), "skins")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

// ---- shared helpers ----

func (o *options) logger() *zap.Logger {
	if !o.debug {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *options) bearer() (string, error) {
	if o.token != "" {
		return o.token, nil
	}
	return loadToken()
}

func (o *options) owner() catalog.Owner {
	tok, _ := o.bearer()
	return catalog.Owner{Name: o.user, ID: participantFromToken(tok)}
}

func (o *options) openCatalog() (*catalog.Catalog, error) {
	c, err := catalog.New(o.dir, o.owner(), o.maxRes, o.logger())
	if err != nil {
		return nil, err
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (o *options) dial() (*client.Conn, error) {
	tok, err := o.bearer()
	if err != nil {
		return nil, err
	}
	return client.Dial(client.Config{
		Addr:      o.addr,
		CACert:    o.caCert,
		Insecure:  o.insecure,
		Plaintext: o.plaintext,
		Token:     tok,
	}, o.dialOpts...)
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "skinsync",
		Short:         StyleTitle.Render("skinsync") + " - share identity skins with everyone on a coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.addr, "addr", envOr("SKINSYNC_ADDR", "localhost:8443"), "coordinator address")
	pf.StringVar(&o.caCert, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	pf.StringVar(&o.token, "token", os.Getenv("SKINSYNC_TOKEN"), "bearer token; the saved token when empty")
	pf.StringVar(&o.dir, "dir", defaultDir(), "catalog directory")
	pf.StringVar(&o.user, "user", envOr("SKINSYNC_USER", os.Getenv("USER")), "display name recorded on imports")
	pf.IntVar(&o.maxRes, "max-resolution", envInt("SKINSYNC_MAX_RESOLUTION", model.DefaultMaxResolution), "largest accepted skin width")
	pf.BoolVar(&o.debug, "debug", false, "log to stderr")

	root.AddCommand(
		newVersionCmd(),
		newSkinCmd(o),
		newSessionCmd(o),
		newRequestCmd(o),
		newResetCmd(o),
		newAdminCmd(o),
		newTokenCmd(),
		newHashKeyCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "skinsync %s (%s)\n", version, buildDate)
		},
	}
}

// main runs the command tree until it finishes or the process is interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err.Error()))
		os.Exit(1)
	}
}
