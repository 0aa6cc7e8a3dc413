package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var chatsJSONOutput bool

func init() {
	chatsCmd.Flags().BoolVar(&chatsJSONOutput, "json", false, "output raw JSON")
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := sess.Loader().LoadChats(ctx); err != nil {
			return fmt.Errorf("load chats: %w", err)
		}

		chats := sess.Store().Chats()
		if chatsJSONOutput {
			data, err := json.MarshalIndent(chats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = c.ID
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf("  [%d unread]", c.UnreadCount)
			}
			fmt.Printf("%-36s  %-8s  %s%s\n", c.ID, c.Kind, title, unread)
		}
		fmt.Printf("\n%d chats, %d unread messages total\n", len(chats), sess.Store().UnreadTotal())
		return nil
	},
}
