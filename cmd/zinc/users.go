package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List conversation peers and unseen counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := getApp()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.Startup(ctx); err != nil {
			return err
		}
		requireIdentity(app)
		defer app.Channel.Disconnect()

		if err := app.Sync.LoadConversationList(ctx); err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}

		users := app.Sync.Users()
		if len(users) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, u := range users {
			marker := " "
			if app.Presence.IsOnline(u.ID) {
				marker = "*"
			}
			line := fmt.Sprintf("%s %-24s %s", marker, u.FullName, u.ID)
			if n := app.Sync.Unseen(u.ID); n > 0 {
				line += fmt.Sprintf("  (%d unseen)", n)
			}
			fmt.Println(line)
		}
		return nil
	},
}
