package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	zinc "github.com/zinc-im/zinc/sdk/golang"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <peer-id>",
	Short: "Show the message history with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID := args[0]

		app, err := getApp()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.Startup(ctx); err != nil {
			return err
		}
		self := requireIdentity(app)
		defer app.Channel.Disconnect()

		app.Sync.SelectConversation(peerID)
		if err := app.Sync.LoadHistory(ctx, peerID); err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		msgs := app.Sync.Messages(peerID)
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range msgs {
			printMessage(m, self.ID)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <text>...",
	Short: "Send a message to a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID := args[0]
		text := strings.Join(args[1:], " ")

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

		app.Sync.SelectConversation(peerID)
		sent, err := app.Sync.SendMessage(ctx, zinc.Outgoing{Text: text})
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if sent != nil {
			fmt.Printf("Sent %s at %s\n", sent.ID, sent.CreatedAt)
		} else {
			fmt.Println("Sent.")
		}
		return nil
	},
}

// printMessage renders one message with direction relative to the local user.
func printMessage(m zinc.Message, selfID string) {
	direction := "<-"
	if m.SenderID == selfID {
		direction = "->"
	}
	body := m.Text
	if body == "" && m.Image != "" {
		body = "[image] " + m.Image
	}
	fmt.Printf("%s %s  %s\n", m.CreatedAt, direction, body)
}
