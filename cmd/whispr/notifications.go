package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)

	notificationsCmd.Flags().Bool("unread", false, "show unread only")
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		items, err := client.Notifications().List(ctx)
		if err != nil {
			return err
		}

		shown := 0
		for _, n := range items {
			if unreadOnly && n.IsRead {
				continue
			}
			marker := " "
			if !n.IsRead {
				marker = "*"
			}
			fmt.Printf("%s %s  [%-9s]  %s\n", marker, n.ID, n.Type, n.Text)
			shown++
		}
		if shown == 0 {
			fmt.Println("No notifications.")
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [notification-id]",
	Short: "Mark one notification as read, or all when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if len(args) == 1 {
			if err := client.Notifications().MarkRead(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Marked %s as read.\n", args[0])
			return nil
		}

		if err := client.Notifications().MarkAllRead(ctx); err != nil {
			return err
		}
		fmt.Println("Marked all notifications as read.")
		return nil
	},
}
