package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	zinc "github.com/zinc-im/zinc/sdk/golang"
	"golang.org/x/term"
)

var (
	signupFullName string
	signupBio      string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)

	signupCmd.Flags().StringVar(&signupFullName, "name", "", "display name for the new account")
	signupCmd.Flags().StringVar(&signupBio, "bio", "", "profile bio for the new account")
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		app, err := getApp()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.Login(ctx, zinc.Credentials{Email: args[0], Password: password}); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		defer app.Channel.Disconnect()

		user := app.Session.Identity()
		fmt.Printf("Logged in as %s (%s)\n", user.FullName, user.Email)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <email>",
	Short: "Create an account and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := signupFullName
		if name == "" {
			fmt.Print("Full name: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			name = strings.TrimSpace(line)
		}

		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		app, err := getApp()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		creds := zinc.Credentials{
			FullName: name,
			Email:    args[0],
			Password: password,
			Bio:      signupBio,
		}
		if err := app.Signup(ctx, creds); err != nil {
			return fmt.Errorf("signup failed: %w", err)
		}
		defer app.Channel.Disconnect()

		user := app.Session.Identity()
		fmt.Printf("Account created. Logged in as %s (%s)\n", user.FullName, user.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := getApp()
		if err != nil {
			return err
		}
		if err := app.Logout(); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// promptPassword reads a password without echoing it.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return string(data), nil
}
