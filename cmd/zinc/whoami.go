package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	zinc "github.com/zinc-im/zinc/sdk/golang"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session and identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := getApp()
		if err != nil {
			return err
		}

		if _, ok := app.Session.Token(); !ok {
			fmt.Println("Session: anonymous (no stored token)")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Startup(ctx); err != nil {
			return err
		}
		defer app.Channel.Disconnect()

		switch app.Session.State() {
		case zinc.SessionPending:
			fmt.Println("Session: token present but not accepted by the server")
			fmt.Println("Run 'zinc login' to re-authenticate.")
		case zinc.SessionAuthenticated:
			user := app.Session.Identity()
			fmt.Printf("Name:  %s\n", user.FullName)
			fmt.Printf("Email: %s\n", user.Email)
			if user.Bio != "" {
				fmt.Printf("Bio:   %s\n", user.Bio)
			}
			fmt.Printf("ID:    %s\n", user.ID)
		}

		if expires, ok := app.Session.ExpiresAt(); ok {
			if time.Now().Before(expires) {
				fmt.Printf("Token: valid (expires %s)\n", expires.Format(time.RFC3339))
			} else {
				fmt.Printf("Token: EXPIRED (%s)\n", expires.Format(time.RFC3339))
			}
		}
		return nil
	},
}
