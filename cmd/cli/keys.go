package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/skin-sync/internal/auth"
	"github.com/and161185/skin-sync/internal/crypto"
)

func newTokenCmd() *cobra.Command {
	var (
		key         string
		participant string
		admin       bool
		ttl         time.Duration
		save        bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a participant token signed with the coordinator's JWT key",
		Long: `Issue a participant token signed with the coordinator's JWT key.

Examples:
  skinsync token --key "$SKINSYNC_JWT_KEY" --save
  skinsync token --participant 3f1c...-... --admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				return errors.New("need --key or SKINSYNC_JWT_KEY")
			}
			if participant == "" {
				id, err := u.NewV4()
				if err != nil {
					return err
				}
				participant = id.String()
			}
			tok, exp, err := auth.Issue([]byte(key), participant, admin, ttl, time.Now())
			if err != nil {
				return err
			}
			if save {
				if err := saveToken(tok, exp); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), FormatSuccess("saved to "+tokenPath()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", os.Getenv("SKINSYNC_JWT_KEY"), "HMAC signing key")
	cmd.Flags().StringVarP(&participant, "participant", "p", "", "participant UUID (random when empty)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin RPCs")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store as the default token")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [api-key]",
		Short: "Hash a store API key for STORE_API_KEY_HASH; generates a key when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				k, err := crypto.GenerateAPIKey()
				if err != nil {
					return err
				}
				key = k
				fmt.Fprintf(out, "api_key=%s\n", key)
			}
			h, err := crypto.HashAPIKey(key)
			if err != nil {
				return err
			}
			// single quotes keep godotenv from expanding the $-separated fields
			fmt.Fprintf(out, "STORE_API_KEY_HASH='%s'\n", h)
			return nil
		},
	}
}
