package main

import (
	"fmt"

	"github.com/reelcast/reelcast/internal/adapter/backend"
	"github.com/spf13/cobra"
)

// loginCmd signs in and stores the session in config.yaml
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := backend.NewAuthFlow(&app.cfg.Backend, app.logger)
		if err != nil {
			return err
		}
		session, err := app.Session()
		if err != nil {
			return err
		}
		_, err = session.Login(cmd.Context(), flow)
		return err
	},
}

// logoutCmd forgets the session and the cached videos
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear cached videos",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.Session()
		if err != nil {
			return err
		}
		if err := session.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}
