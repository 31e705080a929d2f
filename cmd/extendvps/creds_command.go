package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"extendvps/internal/store"
)

const passwordEnv = "EXTENDVPS_PASSWORD"

func newCredsCommand(ctx *commandContext) *cobra.Command {
	credsCmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage the stored panel login",
	}
	credsCmd.AddCommand(newCredsSetCommand(ctx))
	credsCmd.AddCommand(newCredsShowCommand(ctx))
	credsCmd.AddCommand(newCredsClearCommand(ctx))
	return credsCmd
}

func withStore(ctx *commandContext, fn func(*store.SQLite) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	kv, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(kv)
}

func newCredsSetCommand(ctx *commandContext) *cobra.Command {
	var memberID string
	var password string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the member ID and password used for automatic login",
		Long: `Store the member ID and password used for automatic login.

The password is taken from --password, then $` + passwordEnv + `, then the
first line of stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID = strings.TrimSpace(memberID)
			if memberID == "" {
				return errors.New("--member-id is required")
			}
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = line
			}
			if password == "" {
				return errors.New("password is required")
			}

			return withStore(ctx, func(kv *store.SQLite) error {
				if err := kv.Set(cmd.Context(), store.KeyMemberID, memberID); err != nil {
					return err
				}
				if err := kv.Set(cmd.Context(), store.KeyPassword, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials for %s in %s\n", memberID, kv.Path())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&memberID, "member-id", "", "Panel member ID")
	cmd.Flags().StringVar(&password, "password", "", "Panel password (prefer $"+passwordEnv+" or stdin)")
	return cmd
}

func newCredsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show which credentials are stored (the password is never printed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(kv *store.SQLite) error {
				member, ok, err := kv.Get(cmd.Context(), store.KeyMemberID)
				if err != nil {
					return err
				}
				if !ok {
					member = "-"
				}
				_, hasPassword, err := kv.Get(cmd.Context(), store.KeyPassword)
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Member ID", member},
					{"Password", yesNo(hasPassword)},
					{"Store", kv.Path()},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newCredsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored login; the next run waits for a manual login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(kv *store.SQLite) error {
				if err := store.ClearCredentials(cmd.Context(), kv); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared stored credentials")
				return nil
			})
		},
	}
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if sc.Scan() {
		return strings.TrimRight(sc.Text(), "\r\n"), nil
	}
	return "", sc.Err()
}

func yesNo(value bool) string {
	if value {
		return "stored"
	}
	return "not stored"
}
