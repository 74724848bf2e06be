package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	zinc "github.com/zinc-im/zinc/sdk/golang"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live presence and message events",
	Long:  "Stay connected to the realtime channel and print presence changes and\nincoming messages as they arrive. Press Ctrl+C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := getApp()
		if err != nil {
			return err
		}

		// Handlers must be installed before the channel connects so the
		// initial presence snapshot is not missed. Messages are observed
		// through the sync engine: the channel's message-handler slot
		// belongs to it and is rebound on connect.
		app.Channel.SetStateHandler(func(state zinc.ChannelState) {
			fmt.Printf("[%s] channel: %s\n", timestamp(), state)
		})
		app.Channel.SetPresenceHandler(func(ids []string) {
			app.Presence.Replace(ids)
			fmt.Printf("[%s] online: %s\n", timestamp(), strings.Join(ids, ", "))
		})
		app.OnMessage(func(msg zinc.Message) {
			body := msg.Text
			if body == "" && msg.Image != "" {
				body = "[image]"
			}
			fmt.Printf("[%s] message from %s: %s\n", timestamp(), msg.SenderID, body)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Startup(ctx); err != nil {
			return err
		}
		requireIdentity(app)
		defer app.Channel.Disconnect()

		fmt.Println("Watching for events. Press Ctrl+C to stop.")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nStopping.")
		return nil
	},
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
