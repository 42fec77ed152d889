package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/auth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a session token for a user",
	Long: `Signs a token with the key pair at JWT_PRIVATE_KEY_PATH / JWT_PUBLIC_KEY_PATH.
Without key paths the pair is generated on the spot and the token is useless to
a running server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id must be a UUID: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.PrivateKeyPath == "" {
			logger.Warn("no key pair configured; the token is signed with a throwaway key")
		}
		sessions, err := auth.NewSessions(cfg.Auth)
		if err != nil {
			return err
		}
		token, err := sessions.Issue(userID)
		if err != nil {
			return err
		}
		logger.Debug("token issued", zap.String("user", userID.String()))
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen [dir]",
	Short: "Write a raw ed25519 key pair (jwt.key, jwt.pub) for session tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return err
		}
		privPath, pubPath := filepath.Join(dir, "jwt.key"), filepath.Join(dir, "jwt.pub")
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists", p)
			}
		}
		if err := os.WriteFile(privPath, priv, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
			return err
		}
		logger.Info("key pair written", zap.String("dir", dir))
		fmt.Fprintf(cmd.OutOrStdout(), "JWT_PRIVATE_KEY_PATH=%s\nJWT_PUBLIC_KEY_PATH=%s\n", privPath, pubPath)
		return nil
	},
}
