package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	loqui "github.com/loqui-im/loqui-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Follow a chat live",
	Long:  "Loads the chat, connects to the push stream, and prints messages as they arrive. Ctrl-C to stop.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := args[0]

		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sess.Store().SetActiveChat(chatID)
		if err := sess.Loader().LoadMessages(ctx, chatID, ""); err != nil {
			cancel()
			return fmt.Errorf("load messages: %w", err)
		}
		if err := sess.Loader().LoadChatProfile(ctx, chatID); err != nil {
			cancel()
			return fmt.Errorf("load chat profile: %w", err)
		}
		cancel()

		for _, m := range sess.Store().Messages(chatID) {
			printMessage(m)
		}

		// Re-render on every store change; the projection reads are cheap
		// enough to run per notification.
		seen := map[string]bool{}
		for _, m := range sess.Store().Messages(chatID) {
			seen[m.ID] = true
		}
		unsubscribe := sess.Store().Subscribe(func() {
			for _, m := range sess.Store().Messages(chatID) {
				if !seen[m.ID] {
					seen[m.ID] = true
					printMessage(m)
				}
			}
		})
		defer unsubscribe()

		connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = sess.ConnectRealtime(connectCtx, loqui.RealtimeConfig{AutoReconnect: true})
		connectCancel()
		if err != nil {
			return fmt.Errorf("connect realtime: %w", err)
		}

		online := sess.Store().OnlineMembers(chatID)
		fmt.Printf("-- watching %s (%d members online) --\n", chatID, len(online))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		fmt.Println("\n-- stopped --")
		return nil
	},
}

func printMessage(m loqui.Message) {
	flag := ""
	switch m.Status {
	case loqui.StatusPending:
		flag = " (sending…)"
	case loqui.StatusFailed:
		flag = " (FAILED)"
	}
	if m.Pinned {
		flag += " 📌"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		m.SentAt.Local().Format(time.Kitchen), m.SenderID, m.Content, flag)
}
