package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	whispr "github.com/whispr-social/whispr-go"
)

func init() {
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unrelateCmd)
}

var followCmd = &cobra.Command{
	Use:   "follow <user-id>",
	Short: "Follow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRelation(args[0], whispr.RelationFollow)
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <user-id>",
	Short: "Block a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRelation(args[0], whispr.RelationBlock)
	},
}

var unrelateCmd = &cobra.Command{
	Use:   "unrelate <relation-id>",
	Short: "Remove a follow or block relation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Relations().Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Removed.")
		return nil
	},
}

func addRelation(toUserID, relType string) error {
	client := getClient()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rel, err := client.Relations().Add(ctx, toUserID, relType)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s relation %s\n", rel.Type, rel.ID)
	return nil
}
