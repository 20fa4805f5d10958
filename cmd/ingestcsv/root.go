package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"egc/internal/config"
	"egc/internal/infrastructure"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if output, _ := rootCmd.PersistentFlags().GetString("output"); output == "json" {
			_ = printJSON(rootCmd.OutOrStdout(), map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		output   string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:           "ingestcsv",
		Short:         "Offline CSV rollups and fee calculations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q (want text or json)", output)
			}
			logger, err := infrastructure.NewLogger(config.LoggingConfig{
				Level:  logLevel,
				Format: "text",
				Output: "console",
			}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("EGC_LOGGING_LEVEL", "warn"), "log level: debug, info, warn or error")

	rootCmd.AddCommand(newRollupCmd())
	rootCmd.AddCommand(newCalcCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func getOutputFormat(cmd *cobra.Command) string {
	output, _ := cmd.Flags().GetString("output")
	return output
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
