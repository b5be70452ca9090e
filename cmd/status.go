package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablefx/pkg/chain"
	"stablefx/pkg/swapform"
	"stablefx/pkg/token"
)

var (
	watchStatus   bool
	watchInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:     "tx <tx-hash>",
	Aliases: []string{"status"},
	Short:   "Check the status of a transaction",
	Long: `Look up a transaction and its receipt, with a link to the block explorer.

Examples:
  stablefx tx 0x1234...abcd
  stablefx tx 0x1234...abcd --watch
  stablefx tx 0x1234...abcd --watch --interval 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll until the transaction is mined")
	statusCmd.Flags().DurationVar(&watchInterval, "interval", 3*time.Second, "Polling interval when watching")
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	raw := args[0]
	if len(strings.TrimPrefix(raw, "0x")) != 2*common.HashLength {
		return fmt.Errorf("invalid transaction hash: %s", raw)
	}
	hash := common.HexToHash(raw)

	cfg, logger, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()

	client, err := newChainClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if watchStatus {
		if jsonOutput {
			return fmt.Errorf("watch mode not supported with JSON output")
		}
		return watchTransaction(ctx, client, hash, cfg.ExplorerURL)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction..."
		s.Start()
	}

	info, err := client.GetTransactionInfo(ctx, hash)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		logger.WithError(err).WithField("hash", hash.Hex()).Debug("transaction lookup failed")
		return err
	}

	if jsonOutput {
		output := struct {
			*chain.TxInfo
			ExplorerURL string `json:"explorer_url"`
		}{info, swapform.TxURL(cfg.ExplorerURL, hash)}

		jsonData, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	displayStatus(info, cfg.ExplorerURL)
	return nil
}

func watchTransaction(ctx context.Context, client *chain.Client, hash common.Hash, explorerURL string) error {
	fmt.Printf("\nWatching transaction %s\n", color.CyanString(hash.Hex()))
	fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		info, err := client.GetTransactionInfo(ctx, hash)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(info, explorerURL)
			if info.Mined {
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func displayStatus(info *chain.TxInfo, explorerURL string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Hash:       %s\n", color.CyanString(info.Hash))
	fmt.Printf("  Status:     %s\n", getColoredStatus(info))

	to := info.To
	if to != "" {
		if t, ok := token.Default().ByAddress(common.HexToAddress(to)); ok {
			to = fmt.Sprintf("%s (%s)", to, t.Symbol)
		}
		fmt.Printf("  To:         %s\n", to)
	}
	fmt.Printf("  Nonce:      %d\n", info.Nonce)
	fmt.Printf("  Gas Limit:  %d\n", info.GasLimit)

	if info.Mined {
		fmt.Printf("  Block:      %d\n", info.BlockNumber)
		fmt.Printf("  Gas Used:   %d\n", info.GasUsed)
	}
	fmt.Printf("  Explorer:   %s\n", swapform.TxURL(explorerURL, common.HexToHash(info.Hash)))

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(info *chain.TxInfo) string {
	switch {
	case !info.Mined:
		return color.YellowString("PENDING")
	case info.Succeeded:
		return color.GreenString("SUCCESS")
	default:
		return color.RedString("FAILED")
	}
}
