package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "protofinder",
	Short: "protofinder guesses the application layer protocol of TCP sessions",
	Long: `protofinder guesses the application layer protocol of TCP sessions
from well-known port conventions, and confirms the guesses by
recognizing the first payloads of each session.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func contextWithCancelOnInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
