// Command groupchatd serves the group chat API and offers a few operator
// commands over the same provider catalog.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-groupchat-backend/internal/sysutil"
)

//	@title			Group Chat API
//	@version		1.0
//	@description	Multi-provider group chat: one user message, concurrent replies from every AI member.
//	@BasePath		/api/v1

var envFile string

var rootCmd = &cobra.Command{
	Use:   "groupchatd",
	Short: "Multi-provider group chat service",
	Long: `groupchatd fans every user message out to the AI members of a group
and streams their replies back as they arrive.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		sysutil.SetupLogging(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_PRETTY") == "true")
		return nil
	},
}

func init() {
	version, _ := sysutil.Build()
	rootCmd.Version = version
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(serveCmd, providersCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("groupchatd failed")
		os.Exit(1)
	}
}
