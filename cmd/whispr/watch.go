package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	whispr "github.com/whispr-social/whispr-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events until interrupted",
	Long:  "Connect the real-time socket and print messages, notifications, and presence changes as they arrive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		store := getStore()

		session := whispr.NewSession(client, store)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		session.Hydrate(ctx)
		if !session.IsAuthenticated() {
			return fmt.Errorf("stored token is no longer valid, run 'whispr login'")
		}

		rt := whispr.NewRealtimeClient(socketURL(), &whispr.RealtimeConfig{
			AutoReconnect: true,
		})
		conn := whispr.NewConnectionManager(session, rt)

		toasts := whispr.NewToastDispatcher()
		toasts.OnChange(func(alerts []whispr.ToastAlert) {
			for _, a := range alerts {
				fmt.Printf("~ [%s] %s: %s\n", a.Type, a.Title, a.Message)
			}
		})

		presence := whispr.NewPresenceTracker(session, conn)
		notifications := whispr.NewNotificationAggregator(client, conn, toasts)
		conversations := whispr.NewConversationManager(client, session, conn)

		presence.Start()
		notifications.Start()
		conversations.Start()
		defer presence.Stop()
		defer notifications.Stop()
		defer conversations.Stop()

		conn.OnConnected(func() {
			fmt.Println("* connected")
		})
		conn.OnDisconnected(func(code int, reason string) {
			fmt.Printf("* disconnected: %s\n", reason)
		})
		conn.OnMessageNew(func(m whispr.Message) {
			who := m.Sender.Name
			if m.IsAnonymous {
				who = "(anonymous)"
			}
			fmt.Printf("< %s: %s\n", who, m.Content)
		})
		conn.OnPresenceUpdate(func(e whispr.PresenceEntry) {
			state := "offline"
			if e.IsOnline {
				state = "online"
			}
			fmt.Printf("@ %s is %s\n", e.UserID, state)
		})

		if err := conn.Start(ctx); err != nil {
			return err
		}
		defer conn.Stop()

		if err := notifications.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: notification refresh failed: %v\n", err)
		}
		fmt.Printf("Watching as %s (%d unread). Ctrl-C to stop.\n",
			session.User().Name, notifications.UnreadCount())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println()
		return nil
	},
}
