package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"prepflow-go/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "prepflow",
	Short:         "PrepFlow backup service",
	Long:          `Serve the encrypted backup API, or export, restore and inspect PrepFlow backups from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup API and database maintenance",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadEnv()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openRuntime loads configuration and opens the database and stores for a
// one-shot command.
func openRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, err := app.LoadEnv()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg)
}
