package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stablefx/config"
	"stablefx/pkg/chain"
	"stablefx/pkg/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "stablefx",
	Short: "Swap USDC, EURC and BRLA through the StableFX contract on Arc testnet",
	Long: `stablefx is a command-line client for the StableFX swap contract. It quotes
swaps locally, approves the contract to spend your source token when needed,
submits the swap and follows it to confirmation.

Set STABLEFX_PRIVATE_KEY (or private_key in .stablefx.yaml) to sign transactions.

Examples:
  stablefx tokens
  stablefx quote 100 USDC to EURC
  stablefx balance
  stablefx swap 100 USDC to EURC
  stablefx tx 0xabc...`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Errors are printed here since the root
// command silences cobra's own output.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newLogger builds the process logger. Logs go to stderr so that stdout
// stays clean for --json output.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.WarnLevel
	if cfg != nil && cfg.LogLevel != "" {
		if parsed, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		} else {
			logger.WithError(err).Warn("ignoring invalid log_level")
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	return logger
}

// setup loads configuration and the logger, and starts the metrics endpoint
// when metrics_addr is set. The returned stop func must be called on exit.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := newLogger(cmd, cfg)
	metrics.Register(logger)

	stop := func() {}
	if cfg.MetricsAddr != "" {
		srv := metrics.StartServer(cfg.MetricsAddr, logger.WithField("component", "metrics"))
		stop = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				logger.WithError(err).Warn("failed to stop metrics server")
			}
		}
	}

	return cfg, logger, stop, nil
}

func newChainClient(cfg *config.Config, sign chain.SignFunc) (*chain.Client, error) {
	return chain.NewClient(chain.Options{
		RPCURL:          cfg.RPCURL,
		ChainID:         cfg.ChainID,
		PrivateKey:      cfg.PrivateKey,
		GasLimit:        cfg.GasLimit,
		GasPrice:        cfg.GasPrice,
		ConfirmInterval: cfg.ConfirmInterval,
		Sign:            sign,
	})
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
