package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stablefx/pkg/approval"
	"stablefx/pkg/chain"
	"stablefx/pkg/eventloop"
	"stablefx/pkg/parser"
	"stablefx/pkg/quote"
	"stablefx/pkg/swapform"
	"stablefx/pkg/token"
	"stablefx/pkg/txn"
	"stablefx/pkg/types"
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap one stablecoin for another",
	Long: `Swap tokens through the StableFX contract.

If the contract is not yet allowed to spend the source token, an unlimited
approval is sent first. Each transaction is shown for confirmation before it
is signed unless --yes is given.

Examples:
  stablefx swap 100 USDC to EURC
  stablefx swap 50 EURC to BRLA --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runSwap(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	swapReq, err := parser.ParseArgs(args)
	if err != nil {
		return err
	}

	registry := token.Default()
	display, err := buildQuote(registry, swapReq)
	if err != nil {
		return err
	}

	cfg, logger, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()

	if !cfg.HasSigner() {
		return fmt.Errorf("no signing key: set STABLEFX_PRIVATE_KEY or private_key in .stablefx.yaml")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sign := promptSigner(s, registry, noConfirm || jsonOutput)

	client, err := newChainClient(cfg, sign)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if !jsonOutput {
		src, err := registry.Lookup(swapReq.SourceToken)
		if err != nil {
			return err
		}
		display.NeedsApprove, err = needsApprove(ctx, client, src, swapReq.Amount, client.Account(), cfg.SwapContract)
		if err != nil {
			// The form reads the allowance again before acting.
			logger.WithError(err).Debug("allowance check for quote failed")
		}

		displayQuote(display)
		if !noConfirm && !confirm("Proceed with swap?") {
			fmt.Println("\nSwap cancelled.")
			return nil
		}
	}

	loop := eventloop.New()
	loop.Start()
	defer loop.Stop()

	form, err := swapform.New(swapform.Config{
		Loop:         loop,
		Caller:       client,
		Transactor:   client,
		Registry:     registry,
		Session:      swapform.Wallet{Address: client.Account()},
		Contract:     cfg.SwapContract,
		ExplorerURL:  cfg.ExplorerURL,
		PollInterval: cfg.PollInterval,
		ResetDelay:   cfg.ResetDelay,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := form.Start(ctx); err != nil {
		return err
	}
	defer form.Stop()

	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
		defer s.Stop()
	}

	results, err := driveSwap(ctx, form, swapReq, s, logger)
	s.Stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		jsonData, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	for _, r := range results {
		color.Green("\n✓ %s confirmed", r.Kind)
		fmt.Printf("  Transaction: %s\n", color.CyanString(r.TxHash))
		fmt.Printf("  Explorer:    %s\n", r.ExplorerURL)
	}
	printSuccess(fmt.Sprintf("Swapped %s %s to %s.", display.SourceAmount, display.SourceToken, display.DestToken))

	return nil
}

// driveSwap selects the pair, enters the amount and presses the primary
// action until the swap confirms. An approval is sent first when needed.
func driveSwap(ctx context.Context, form *swapform.Controller, req *types.SwapRequest, s *spinner.Spinner,
	logger logrus.FieldLogger) ([]types.SwapResult, error) {

	if err := form.SelectSource(ctx, req.SourceToken); err != nil {
		return nil, err
	}
	if err := form.SelectDest(ctx, req.DestToken); err != nil {
		return nil, err
	}
	if err := form.SetAmount(ctx, req.Amount); err != nil {
		return nil, err
	}

	// Wait for the first balance and allowance reads before deciding.
	st, err := waitForState(ctx, form, s, func(st swapform.State) bool {
		return st.SourceBalance != nil && st.Allowance != nil
	})
	if err != nil {
		return nil, err
	}

	amountIn, err := quote.ToUnits(st.Amount, st.Source.Decimals)
	if err != nil {
		return nil, err
	}
	if st.SourceBalance.Cmp(amountIn) < 0 {
		return nil, fmt.Errorf("insufficient %s balance: have %s, need %s",
			st.Source.Symbol, quote.FromUnits(st.SourceBalance, st.Source.Decimals), st.Amount)
	}

	var results []types.SwapResult
	for {
		st, err = waitForState(ctx, form, s, func(st swapform.State) bool {
			return st.ActionEnabled
		})
		if err != nil {
			return results, err
		}

		kind := txn.KindSwap
		if st.NeedsApproval {
			kind = txn.KindApprove
		}
		logger.WithField("phase", st.Phase).Debug("pressing primary action")

		if err := form.PrimaryAction(ctx); err != nil {
			return results, err
		}

		st, err = waitForState(ctx, form, s, func(st swapform.State) bool {
			return st.Tx.Phase == txn.PhaseConfirmed || st.Tx.Phase == txn.PhaseFailed
		})
		if err != nil {
			return results, err
		}

		if st.Tx.Phase == txn.PhaseFailed {
			if errors.Is(st.Tx.Err, chain.ErrRejected) {
				return results, fmt.Errorf("%s cancelled: %w", kind, st.Tx.Err)
			}
			return results, fmt.Errorf("%s failed: %w", kind, st.Tx.Err)
		}

		results = append(results, types.SwapResult{
			Kind:        string(kind),
			TxHash:      st.Tx.Hash.Hex(),
			Status:      string(st.Tx.Phase),
			ExplorerURL: st.ExplorerURL,
		})

		if kind == txn.KindSwap {
			return results, nil
		}

		// The slot is free only after the refreshed allowance landed; make
		// sure it covers the amount before pressing again.
		if _, err := waitForState(ctx, form, s, func(st swapform.State) bool {
			return st.Allowance != nil && st.Allowance.Cmp(amountIn) >= 0
		}); err != nil {
			return results, err
		}
	}
}

// needsApprove reads the current allowance and reports whether a swap of
// amount must be preceded by an approval.
func needsApprove(ctx context.Context, caller chain.Caller, src token.Token, amount string, owner, spender common.Address) (bool, error) {
	allowance, err := chain.Allowance(ctx, caller, src.Address, owner, spender)
	if err != nil {
		return false, err
	}
	return approval.NeedsApproval(amount, src.Decimals, allowance), nil
}

// waitForState re-reads the form on every change until done holds. The
// spinner follows the action label.
func waitForState(ctx context.Context, form *swapform.Controller, s *spinner.Spinner,
	done func(swapform.State) bool) (swapform.State, error) {

	for {
		st, err := form.State(ctx)
		if err != nil {
			return st, err
		}

		s.Lock()
		s.Suffix = " " + st.Label
		s.Unlock()

		if done(st) {
			return st, nil
		}

		select {
		case <-form.Changed():
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// promptSigner asks on the terminal before each transaction is signed
func promptSigner(s *spinner.Spinner, registry *token.Registry, autoApprove bool) chain.SignFunc {
	var mu sync.Mutex

	return func(req chain.SignRequest) bool {
		if autoApprove {
			return true
		}

		mu.Lock()
		defer mu.Unlock()

		active := s.Active()
		if active {
			s.Stop()
		}
		defer func() {
			if active {
				s.Start()
			}
		}()

		target := req.To.Hex()
		if t, ok := registry.ByAddress(req.To); ok {
			target = t.Symbol
		}
		color.Yellow("\nSign %s on %s?", req.Method, target)
		for i, arg := range req.Args {
			fmt.Printf("  arg %d: %v\n", i, arg)
		}
		return confirm("Sign transaction?")
	}
}

func confirm(question string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", question)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
