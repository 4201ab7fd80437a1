package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/config"
	"github.com/c0deZ3R0/go-order-kit/logging"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries the state every subcommand shares once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg      config.Ordering
	alphabet *orderkey.Alphabet
	logger   *logging.Logger
	level    *logging.DynamicLevelVar
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ordkit",
		Short: "Fractional order keys and optimistic move coordination",
		Long: `ordkit works with the fractional order keys used to position items in
containers: it generates and compares keys, rebalances crowded containers,
migrates legacy integer positions, and serves a mutation authority.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "ordering config file (yaml or json)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading ORDERKIT_* variables")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, fatal")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newKeyCmd(a),
		newRebalanceCmd(a),
		newMigrateCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newSimulateCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return err
	}
	alphabet, err := cfg.NewAlphabet()
	if err != nil {
		return err
	}
	a.cfg, a.alphabet = cfg, alphabet

	logCfg := logging.GetConfigFromEnv()
	if a.logFormat != "" {
		logCfg.Format = a.logFormat
	}
	a.logger, a.level = logging.NewLoggerWithDynamicLevel(cmd.ErrOrStderr(), logCfg)
	if a.logLevel != "" {
		if !a.level.SetFromString(a.logLevel) {
			return fmt.Errorf("unknown log level %q", a.logLevel)
		}
		logCfg.Level = strings.ToLower(a.logLevel)
	}
	a.logger.Debug("logger configured", "config", logCfg.String())
	return nil
}
