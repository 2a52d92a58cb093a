package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ttsctl",
	Short: "Volcengine streaming TTS tools",
	Long: `ttsctl talks to the Volcengine binary websocket TTS service directly
or checks a running gateway.

Configuration is read from the environment and an optional .env file,
the same way the gateway server reads it.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
