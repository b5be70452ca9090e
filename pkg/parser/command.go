package parser

import (
	"fmt"
	"regexp"
	"strings"

	"stablefx/pkg/token"
	"stablefx/pkg/types"
)

var swapPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)\s+([A-Z0-9.]+)\s+TO\s+([A-Z0-9.]+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 100 USDC to EURC"
//   - "2.5 eurc to brla"
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	command = strings.TrimSpace(strings.ToUpper(command))
	command = strings.TrimPrefix(command, "SWAP ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 100 USDC to EURC')")
	}

	req := &types.SwapRequest{
		Amount:      matches[1],
		SourceToken: token.NormalizeSymbol(matches[2]),
		DestToken:   token.NormalizeSymbol(matches[3]),
	}
	if err := ValidateSwapRequest(req); err != nil {
		return nil, err
	}

	return req, nil
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if req.SourceToken == req.DestToken {
		return fmt.Errorf("cannot swap %s to itself", req.SourceToken)
	}
	return nil
}

// ParseArgs accepts a command split into words, as cobra passes it
func ParseArgs(args []string) (*types.SwapRequest, error) {
	return ParseSwapCommand(strings.Join(args, " "))
}
