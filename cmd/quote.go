package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablefx/pkg/parser"
	"stablefx/pkg/quote"
	"stablefx/pkg/token"
	"stablefx/pkg/types"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token>",
	Short: "Estimate a swap without touching the chain",
	Long: `Estimate the output, fee and minimum accepted output of a swap.

The estimate is a local approximation at a flat 0.3% fee. The contract prices
the swap itself and only guarantees the minimum output (3% slippage).

Examples:
  stablefx quote 100 USDC to EURC
  stablefx quote 2500 brla to usdc --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	req, err := parser.ParseArgs(args)
	if err != nil {
		return err
	}

	display, err := buildQuote(token.Default(), req)
	if err != nil {
		return err
	}

	if jsonOutput {
		jsonData, err := json.MarshalIndent(display, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	displayQuote(display)
	return nil
}

func buildQuote(registry *token.Registry, req *types.SwapRequest) (*types.QuoteDisplay, error) {
	src, err := registry.Lookup(req.SourceToken)
	if err != nil {
		return nil, err
	}
	dst, err := registry.Lookup(req.DestToken)
	if err != nil {
		return nil, err
	}
	if !quote.IsPositive(req.Amount) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	amountIn, err := quote.ToUnits(req.Amount, src.Decimals)
	if err != nil {
		return nil, err
	}

	return &types.QuoteDisplay{
		SourceAmount: quote.FromUnits(amountIn, src.Decimals),
		SourceToken:  src.Symbol,
		DestAmount:   quote.EstimateOutput(req.Amount),
		DestToken:    dst.Symbol,
		Rate:         fmt.Sprintf("1 %s = 1 %s", src.Symbol, dst.Symbol),
		Fee:          fmt.Sprintf("%s %s", quote.EstimateFee(req.Amount), src.Symbol),
		MinAmountOut: quote.FromUnits(quote.MinAmountOut(amountIn), src.Decimals),
	}, nil
}

func displayQuote(q *types.QuoteDisplay) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", q.SourceAmount, color.YellowString(q.SourceToken))
	fmt.Printf("  To:                ~%s %s\n", q.DestAmount, color.YellowString(q.DestToken))
	fmt.Printf("  Rate:              %s\n", q.Rate)
	fmt.Printf("  Fee (0.3%%):        %s\n", q.Fee)
	fmt.Printf("  Minimum received:  %s\n", q.MinAmountOut)
	if q.NeedsApprove {
		color.Yellow("  Approval:          %s must be approved first", q.SourceToken)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
