package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, session, and message stats",
	Long:  "Display the current configuration, whether a session token is stored, and live message counters.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:   %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  Socket URL: %s\n", valueOrDefault(cfg.Default.SocketURL, "(default)"))

		store := getStore()
		token, err := store.Token()
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("Session:")
		if token == "" {
			fmt.Println("  Token: (not logged in)")
			return nil
		}
		fmt.Printf("  Token: %s\n", maskToken(token))
		if lang, err := store.Language(); err == nil && lang != "" {
			fmt.Printf("  Language: %s\n", lang)
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Auth().Profile(ctx)
		if err != nil {
			fmt.Printf("  Error validating session: %v\n", err)
			return nil
		}
		fmt.Printf("  User: %s (%s)\n", user.Name, user.ID)

		stats, err := client.Messages().Stats(ctx)
		if err != nil {
			fmt.Printf("  Error fetching stats: %v\n", err)
			return nil
		}

		fmt.Println()
		fmt.Println("Messages:")
		fmt.Printf("  Received:  %d\n", stats.TotalReceived)
		fmt.Printf("  Sent:      %d\n", stats.TotalSent)
		fmt.Printf("  Anonymous: %d\n", stats.AnonymousCount)
		fmt.Printf("  Unread:    %d\n", stats.UnreadCount)
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
