package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	loqui "github.com/loqui-im/loqui-go"
)

var sendReplyTo string

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "message id to reply to")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>...",
	Short: "Send a message to a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := args[0]
		content := strings.Join(args[1:], " ")

		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := sess.Coordinator().SendMessage(ctx, loqui.PostMessageRequest{
			ChatID:    chatID,
			Content:   content,
			ReplyToID: sendReplyTo,
		})
		if err != nil {
			if f, ok := loqui.AsFailure(err); ok {
				return fmt.Errorf("send rejected (%s): %s", f.Kind, f.Reason)
			}
			return err
		}

		fmt.Printf("Sent %s at %s\n", msg.ID, msg.SentAt.Local().Format(time.Kitchen))
		return nil
	},
}
