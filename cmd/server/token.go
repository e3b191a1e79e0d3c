package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dingjianrui/code-agent/internal/auth"
	"github.com/dingjianrui/code-agent/internal/config"
)

var (
	tokenName    string
	tokenScope   string
	tokenExpires time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenName == "" {
			return fmt.Errorf("--name is required")
		}
		if tokenScope != auth.ScopeChat && tokenScope != auth.ScopeChatRO {
			return fmt.Errorf("--scope must be %q or %q", auth.ScopeChat, auth.ScopeChatRO)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var expiresAt *time.Time
		if tokenExpires > 0 {
			t := time.Now().Add(tokenExpires)
			expiresAt = &t
		}

		token, err := store.Create(tokenName, tokenScope, expiresAt)
		if err != nil {
			return err
		}

		fmt.Printf("Token created (shown once, store it now):\n\n  %s\n\n", token.ID)
		fmt.Printf("Name:  %s\nScope: %s\n", token.Name, token.Scope)
		if expiresAt != nil {
			fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		tokens, err := store.List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOKEN\tNAME\tSCOPE\tCREATED\tLAST USED\tEXPIRES")
		for _, t := range tokens {
			lastUsed, expires := "never", "never"
			if t.LastUsedAt != nil {
				lastUsed = t.LastUsedAt.Format(time.RFC3339)
			}
			if t.ExpiresAt != nil {
				expires = t.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				auth.MaskToken(t.ID), t.Name, t.Scope,
				t.CreatedAt.Format(time.RFC3339), lastUsed, expires)
		}
		return w.Flush()
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Revoke(args[0]); err != nil {
			return err
		}
		fmt.Printf("Token %s revoked\n", auth.MaskToken(args[0]))
		return nil
	},
}

func openStore() (*auth.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return auth.NewStore(cfg.Server.DataDir)
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenName, "name", "", "Human-readable token name")
	tokenCreateCmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeChat, "Token scope: chat or chat:ro")
	tokenCreateCmd.Flags().DurationVar(&tokenExpires, "expires", 0, "Lifetime (e.g. 720h); 0 for no expiry")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}
