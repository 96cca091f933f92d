package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		user       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token for a user from the server's jwt secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return issueToken(cfg, user, ttl, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&user, "user", "", "User the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func issueToken(cfg *config.Config, user string, ttl time.Duration, out io.Writer) error {
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not set")
	}
	tok, err := auth.New("", cfg.Server.JWTSecret).Issue(user, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}
