package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/dqlgen/internal/config"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "dqlgen",
	Short: "Generate Documentum DQL queries from natural language",
	Long: `dqlgen turns natural-language requests into DQL queries, grounded in a
knowledge base of schema, examples, guidelines and curated user feedback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dqlgen %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.AddCommand(
		serveCmd,
		generateCmd,
		promptCmd,
		feedbackCmd,
		promoteCmd,
		indexCmd,
		statusCmd,
		configCmd,
		mcpCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// withApp loads config, builds the logger and wires the app for the
// duration of fn.
func withApp(ctx context.Context, generate bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if generate {
		if err := a.withGenerator(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}
