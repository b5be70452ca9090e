package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablefx/pkg/eventloop"
	"stablefx/pkg/swapform"
	"stablefx/pkg/token"
	"stablefx/pkg/txn"
	"stablefx/pkg/types"
)

var approveCmd = &cobra.Command{
	Use:   "approve <token>",
	Short: "Allow the swap contract to spend a token",
	Long: `Send an unlimited approval for the swap contract on the given token.
Swaps send this automatically when needed; use this to approve ahead of time.

Examples:
  stablefx approve USDC
  stablefx approve brla --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runApprove(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	registry := token.Default()
	t, err := registry.Lookup(args[0])
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
	client, err := newChainClient(cfg, promptSigner(s, registry, noConfirm || jsonOutput))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	loop := eventloop.New()
	loop.Start()
	defer loop.Stop()

	changed := make(chan struct{}, 1)
	orch := txn.New(txn.Config{
		Loop:       loop,
		Transactor: client,
		Contract:   cfg.SwapContract,
		ResetDelay: cfg.ResetDelay,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		Logger: logger,
	})

	if !jsonOutput {
		s.Suffix = fmt.Sprintf(" Approving %s...", t.Symbol)
		s.Start()
		defer s.Stop()
	}

	var submitErr error
	if err := loop.Do(ctx, func() {
		submitErr = orch.SubmitApprove(t.Address, cfg.SwapContract)
	}); err != nil {
		return err
	}
	if submitErr != nil {
		return submitErr
	}

	rec, err := waitForRecord(ctx, loop, orch, changed)
	s.Stop()
	if err != nil {
		return err
	}
	if rec.Phase == txn.PhaseFailed {
		return fmt.Errorf("approve failed: %w", rec.Err)
	}

	result := types.SwapResult{
		Kind:        string(rec.Kind),
		TxHash:      rec.Hash.Hex(),
		Status:      string(rec.Phase),
		ExplorerURL: swapform.TxURL(cfg.ExplorerURL, rec.Hash),
	}

	if jsonOutput {
		jsonData, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	color.Green("\n✓ %s approved for the swap contract", t.Symbol)
	fmt.Printf("  Transaction: %s\n", color.CyanString(result.TxHash))
	fmt.Printf("  Explorer:    %s\n\n", result.ExplorerURL)
	return nil
}

// waitForRecord blocks until the orchestrator's transaction confirms or fails
func waitForRecord(ctx context.Context, loop *eventloop.Loop, orch *txn.Orchestrator, changed <-chan struct{}) (txn.Record, error) {
	for {
		var rec txn.Record
		if err := loop.Do(ctx, func() { rec = orch.Record() }); err != nil {
			return rec, err
		}
		if rec.Phase == txn.PhaseConfirmed || rec.Phase == txn.PhaseFailed {
			return rec, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return rec, ctx.Err()
		}
	}
}
