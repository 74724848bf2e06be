package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	zinc "github.com/zinc-im/zinc/sdk/golang"
)

var (
	profileName string
	profileBio  string
	profilePic  string
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)

	profileSetCmd.Flags().StringVar(&profileName, "name", "", "new display name")
	profileSetCmd.Flags().StringVar(&profileBio, "bio", "", "new profile bio")
	profileSetCmd.Flags().StringVar(&profilePic, "pic", "", "new profile picture (data URL or hosted URL)")
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage your profile",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields",
	Long:  "Update one or more profile fields.\nExample: zinc profile set --name \"Ada L.\" --bio \"analyst\"",
	RunE: func(cmd *cobra.Command, args []string) error {
		update := zinc.ProfileUpdate{
			FullName:   profileName,
			Bio:        profileBio,
			ProfilePic: profilePic,
		}
		if update == (zinc.ProfileUpdate{}) {
			return fmt.Errorf("nothing to update: pass at least one of --name, --bio, --pic")
		}

		app, err := getApp()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Startup(ctx); err != nil {
			return err
		}
		requireIdentity(app)
		defer app.Channel.Disconnect()

		if err := app.UpdateProfile(ctx, update); err != nil {
			return fmt.Errorf("profile update failed: %w", err)
		}

		user := app.Session.Identity()
		fmt.Printf("Profile updated: %s\n", user.FullName)
		if user.Bio != "" {
			fmt.Printf("Bio: %s\n", user.Bio)
		}
		return nil
	},
}
