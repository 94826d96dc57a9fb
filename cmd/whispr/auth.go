package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	whispr "github.com/whispr-social/whispr-go"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password (prompted if omitted)")
	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("password", "", "account password (prompted if omitted)")
}

func promptValue(label string) (string, error) {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		var err error
		if email == "" {
			if email, err = promptValue("Email"); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptValue("Password"); err != nil {
				return err
			}
		}

		session := whispr.NewSession(getAnonClient(), getStore())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := session.LoginWithCredentials(ctx, email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Printf("Logged in as %s (%s)\n", user.Name, user.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		token, err := store.Token()
		if err != nil {
			return err
		}
		if token == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		session := whispr.NewSession(getClient(), store)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		session.Logout(ctx)

		fmt.Println("Logged out.")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		var err error
		if name == "" {
			if name, err = promptValue("Name"); err != nil {
				return err
			}
		}
		if email == "" {
			if email, err = promptValue("Email"); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptValue("Password"); err != nil {
				return err
			}
		}

		client := getAnonClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data, err := client.Auth().Register(ctx, name, email, password)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		session := whispr.NewSession(client, getStore())
		user := data.User
		if err := session.Login(data.Token, &user); err != nil {
			return err
		}

		fmt.Printf("Registered and logged in as %s (%s)\n", user.Name, user.ID)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Auth().Profile(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", user.Name, user.ID)
		if user.Email != "" {
			fmt.Printf("  Email: %s\n", user.Email)
		}
		if user.Bio != "" {
			fmt.Printf("  Bio:   %s\n", user.Bio)
		}
		return nil
	},
}
