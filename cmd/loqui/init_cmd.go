package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	loqui "github.com/loqui-im/loqui-go"
)

var initBaseURL string

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "API base URL (defaults to the production endpoint)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store an access token and initialize the CLI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		// Building a session validates the token shape and yields the
		// user id for the config file.
		opts := []loqui.SessionOption{}
		if initBaseURL != "" {
			opts = append(opts, loqui.WithSessionBaseURL(initBaseURL))
		}
		sess, err := loqui.NewSession(token, opts...)
		if err != nil {
			return err
		}
		userID := sess.Store().SelfID()
		_ = sess.Close()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.Token = token
		cfg.Auth.UserID = userID
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if cfg.Default.DeviceID == "" {
			cfg.Default.DeviceID = uuid.NewString()
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s\n", userID)
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}
