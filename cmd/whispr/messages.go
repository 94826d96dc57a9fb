package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	whispr "github.com/whispr-social/whispr-go"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)

	sendCmd.Flags().Bool("anonymous", false, "send anonymously")
	sendCmd.Flags().String("reply-to", "", "message id this is a reply to")
	inboxCmd.Flags().Bool("sent", false, "show anonymous messages you sent instead")
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.Messages().Conversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, c := range convs {
			// Anonymous threads are read through the inbox, not here.
			if c.LastMessage != nil && c.LastMessage.IsAnonymous {
				continue
			}
			names := ""
			for i, p := range c.Participants {
				if i > 0 {
					names += ", "
				}
				names += p.Name
			}
			preview := ""
			if c.LastMessage != nil {
				preview = truncate(c.LastMessage.Content, 50)
			}
			fmt.Printf("%s  %-30s  %s\n", c.ID, names, preview)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		user, err := client.Auth().Profile(ctx)
		if err != nil {
			return err
		}

		msgs, err := client.Messages().ConversationMessages(ctx, args[0])
		if err != nil {
			return err
		}

		for _, m := range msgs {
			if m.IsAnonymous || m.ParentIsAnonymous {
				continue
			}
			if m.ReplyTo != nil {
				fmt.Printf("  ↳ %s\n", whispr.RenderReplyContent(user.ID, m))
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.Sender.Name, m.Content)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <content>",
	Short: "Send a message to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		anonymous, _ := cmd.Flags().GetBool("anonymous")
		replyTo, _ := cmd.Flags().GetString("reply-to")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var opts *whispr.SendOptions
		if replyTo != "" {
			opts = &whispr.SendOptions{ReplyTo: replyTo}
		}

		msg, err := client.Messages().Send(ctx, args[0], args[1], anonymous, opts)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show received anonymous messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		sent, _ := cmd.Flags().GetBool("sent")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var msgs []whispr.Message
		var err error
		if sent {
			msgs, err = client.Messages().SentAnonymous(ctx)
		} else {
			msgs, err = client.Messages().Anonymous(ctx)
		}
		if err != nil {
			return err
		}

		roots := msgs
		if !sent {
			roots = nil
			for _, m := range msgs {
				if m.IsAnonymous && m.ReplyTo == nil {
					roots = append(roots, m)
				}
			}
		}

		if len(roots) == 0 {
			fmt.Println("Nothing here.")
			return nil
		}
		for _, m := range roots {
			fmt.Printf("%s  [%s]  %s\n", m.ID, m.CreatedAt, truncate(m.Content, 60))
			if reply := whispr.DirectReply(msgs, m.ID); reply != nil {
				fmt.Printf("  ↳ replied: %s\n", truncate(reply.Content, 60))
			}
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
