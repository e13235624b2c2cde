// Package cli implements the mimir command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mimir/internal/client"
	"mimir/internal/config"
	"mimir/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Version returns the build version.
func Version() string { return version }

// options holds the persistent flags after env and .env resolution.
type options struct {
	host        string
	output      string
	configPath  string
	secretsPath string
	logLevel    string

	cfg *config.Config
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{"error": err.Error()}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["violations"] = apiErr.Violations
			}
			var ce *domain.ConfigError
			if errors.As(err, &ce) {
				errObj["violations"] = ce.Violations
			}
			_ = printJSON(stdout, errObj)
		} else {
			fmt.Fprintf(stderr, "%s %v\n", color.RedString("Error:"), err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "mimir",
		Short:         "Semantic layer query federation",
		Long:          "Answers metric inquiries across several databases from one set of definitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			// Precedence: flag > env > default.
			if cmd.Flags().Changed("config-path") {
				cfg.ConfigPath = opts.configPath
			}
			if cmd.Flags().Changed("secrets-path") {
				cfg.SecretsPath = opts.secretsPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if !cmd.Flags().Changed("host") {
				opts.host = os.Getenv("MIMIR_HOST")
			}
			if err := validateOutputFormat(opts.output); err != nil {
				return err
			}
			opts.cfg = cfg

			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.host, "host", "", "Server URL; when empty, definitions are loaded and queried locally (env MIMIR_HOST)")
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	pf.StringVar(&opts.configPath, "config-path", "", "Definitions location (env MIMIR_CONFIG_PATH)")
	pf.StringVar(&opts.secretsPath, "secrets-path", "", "Connection secrets location (env MIMIR_SECRETS_PATH)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")

	rootCmd.AddCommand(newVersionCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newQueryCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newSchemaCmd(opts))
	rootCmd.AddCommand(newReloadCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	return rootCmd
}

func validateOutputFormat(output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}
