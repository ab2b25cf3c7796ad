package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/server"
)

func tokenCMD() *cobra.Command {
	var subject string
	var ttl time.Duration
	var cfgPath string

	token := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret is not set")
			}
			tok, err := server.SignToken(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	return token
}
