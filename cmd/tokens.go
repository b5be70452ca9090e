package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stablefx/config"
	"stablefx/pkg/token"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List the supported stablecoins",
	Long: `List the stablecoins the StableFX contract can swap between.

Examples:
  stablefx tokens
  stablefx tokens --symbol eur`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	tokens := token.Default().All()

	if filterSymbol != "" {
		var filtered []token.Token
		for _, t := range tokens {
			if strings.Contains(t.Symbol, strings.ToUpper(filterSymbol)) {
				filtered = append(filtered, t)
			}
		}
		tokens = filtered
	}

	if jsonOutput {
		jsonData, err := json.MarshalIndent(tokens, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonData))
		return nil
	}

	displayTokens(tokens)
	return nil
}

func displayTokens(tokens []token.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	color.Green("                          SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 80))

	for _, t := range tokens {
		fmt.Printf("  %-6s  %-12s  %d decimals  %s\n",
			color.YellowString(t.Symbol),
			t.Name,
			t.Decimals,
			color.HiBlackString(t.Address.Hex()))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("\nSwap contract: %s\n\n", color.CyanString(config.DefaultSwapContract))
}
