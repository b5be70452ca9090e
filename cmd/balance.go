package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stablefx/pkg/chain"
	"stablefx/pkg/metrics"
	"stablefx/pkg/quote"
	"stablefx/pkg/token"
	"stablefx/pkg/types"
)

var balanceAddress string

var balanceCmd = &cobra.Command{
	Use:     "balance",
	Aliases: []string{"balances"},
	Short:   "Show token balances and allowances toward the swap contract",
	Long: `Read the balance of every supported token and the allowance granted to the
swap contract. Uses the configured key's address unless --address is given.

Examples:
  stablefx balance
  stablefx balance --address 0x1234...`,
	RunE: runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().StringVar(&balanceAddress, "address", "", "Account to inspect (defaults to the configured key)")
}

func runBalance(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

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

	owner := client.Account()
	if balanceAddress != "" {
		if !common.IsHexAddress(balanceAddress) {
			return fmt.Errorf("invalid address: %s", balanceAddress)
		}
		owner = common.HexToAddress(balanceAddress)
	} else if !client.HasSigner() {
		return fmt.Errorf("no account: set STABLEFX_PRIVATE_KEY or pass --address")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	lines, err := readBalances(ctx, client, token.Default().All(), owner, cfg.SwapContract)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		logger.WithError(err).Debug("balance read failed")
		return err
	}

	if jsonOutput {
		jsonData, err := json.MarshalIndent(lines, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	displayBalances(owner, lines)
	return nil
}

// readBalances reads every token's balance and allowance in parallel
func readBalances(ctx context.Context, caller chain.Caller, tokens []token.Token, owner, spender common.Address) ([]types.BalanceLine, error) {
	lines := make([]types.BalanceLine, len(tokens))
	g, ctx := errgroup.WithContext(ctx)

	for i, t := range tokens {
		i, t := i, t
		lines[i].Symbol = t.Symbol

		g.Go(func() error {
			balance, err := chain.BalanceOf(ctx, caller, t.Address, owner)
			if err != nil {
				metrics.RecordRead("balance", metrics.ResultFailure)
				return fmt.Errorf("reading %s balance: %w", t.Symbol, err)
			}
			metrics.RecordRead("balance", metrics.ResultSuccess)
			lines[i].Balance = quote.FromUnits(balance, t.Decimals)
			return nil
		})

		g.Go(func() error {
			allowance, err := chain.Allowance(ctx, caller, t.Address, owner, spender)
			if err != nil {
				metrics.RecordRead("allowance", metrics.ResultFailure)
				return fmt.Errorf("reading %s allowance: %w", t.Symbol, err)
			}
			metrics.RecordRead("allowance", metrics.ResultSuccess)
			lines[i].Allowance = quote.FromUnits(allowance, t.Decimals)
			lines[i].Unlimited = isUnlimited(allowance)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

// isUnlimited treats anything at or above 2^255 as an unbounded approval
func isUnlimited(allowance *big.Int) bool {
	return allowance.BitLen() >= 256
}

func displayBalances(owner common.Address, lines []types.BalanceLine) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                           BALANCES")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Account: %s\n\n", color.CyanString(owner.Hex()))

	for _, l := range lines {
		allowance := l.Allowance
		if l.Unlimited {
			allowance = "unlimited"
		}
		fmt.Printf("  %-6s  %20s   approved: %s\n",
			color.YellowString(l.Symbol), l.Balance, color.HiBlackString(allowance))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
