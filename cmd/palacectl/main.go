// palacectl is the operator CLI for the palace judge: schema migrations, session
// tokens, ad-hoc judging, ledger dumps and rubric checks.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/phototheology/palace/internal/app"
	"github.com/phototheology/palace/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "palacectl",
	Short: "Operate the Phototheology Palace judge",
	Long: `palacectl talks to the same store, model gateway and rubric as the server.

Configuration comes from --config (or PALACE_CONFIG) plus the usual environment
variables; a .env file in the working directory is loaded first.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("PALACE_CONFIG"), "path to a YAML config file")

	rootCmd.AddCommand(migrateCmd, tokenCmd, keygenCmd, judgeCmd, ledgerCmd, rubricCmd, seedCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded",
		zap.String("store", cfg.Database.Driver),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
	)
	return cfg, nil
}

// serviceLogger is the logrus logger handed to the shared services. Their
// output goes to stderr so command output stays clean.
func serviceLogger(cfg *config.Config) *logrus.Logger {
	l := app.NewLogger(cfg)
	l.SetOutput(os.Stderr)
	if !verbose {
		l.SetLevel(logrus.WarnLevel)
	}
	return l
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
