package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

// NewRootCommand builds the ethreconcile command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{stdout: os.Stdout, stderr: os.Stderr}

	rootCmd := &cobra.Command{
		Use:   "ethreconcile",
		Short: "Confirm shop payments from signed intents and on-chain transfers",
		Long: `ethreconcile verifies buyer-signed payment intents against EVM transactions and
confirms the matching order payments once they are deep enough in the chain.

Runs are dry by default: every decision is logged and nothing is written until
--no-dry-run is given.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.stdout = cmd.OutOrStdout()
			opts.stderr = cmd.ErrOrStderr()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(confirmPaymentsCmd(opts))
	rootCmd.AddCommand(confirmWalletPaymentsCmd(opts))
	rootCmd.AddCommand(confirmRefundsCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(networksCmd(opts))
	rootCmd.AddCommand(quoteCmd(opts))

	return rootCmd
}

// Execute runs the root command and reports a failure on stderr
func Execute(version string) error {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
