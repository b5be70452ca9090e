package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken is returned when a symbol is not in the registry
var ErrUnknownToken = errors.New("unknown token")

// Token describes a fungible asset on the swap chain
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
}

func (t Token) String() string {
	return t.Symbol
}

// Supported stablecoins on Arc testnet
var (
	USDC = Token{
		Address:  common.HexToAddress("0x22C00BcaaaEa1548e5397846e0Cf83B75B38e757"),
		Symbol:   "USDC",
		Name:     "USD Coin",
		Decimals: 6,
	}
	EURC = Token{
		Address:  common.HexToAddress("0x40E6eF9881aBFC07099d0D2def1EF43CdAE967A6"),
		Symbol:   "EURC",
		Name:     "Euro Coin",
		Decimals: 6,
	}
	BRLA = Token{
		Address:  common.HexToAddress("0x595884cEF6b9df4301E69d567735100ea2415e5A"),
		Symbol:   "BRLA",
		Name:     "Brazil Real",
		Decimals: 6,
	}
)

// Registry is an ordered, read-only set of tokens
type Registry struct {
	tokens []Token
}

// NewRegistry creates a registry from the given tokens, keeping their order
func NewRegistry(tokens ...Token) *Registry {
	list := make([]Token, len(tokens))
	copy(list, tokens)
	return &Registry{tokens: list}
}

// Default returns the registry of the three supported stablecoins
func Default() *Registry {
	return NewRegistry(USDC, EURC, BRLA)
}

// All returns a copy of the registered tokens
func (r *Registry) All() []Token {
	list := make([]Token, len(r.tokens))
	copy(list, r.tokens)
	return list
}

// Lookup finds a token by symbol, case-insensitively
func (r *Registry) Lookup(symbol string) (Token, error) {
	symbol = NormalizeSymbol(symbol)
	for _, t := range r.tokens {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
}

// ByAddress finds a token by contract address
func (r *Registry) ByAddress(addr common.Address) (Token, bool) {
	for _, t := range r.tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return Token{}, false
}

// NormalizeSymbol upper-cases a symbol and resolves common aliases
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"USDC.E": "USDC",
		"EUROC":  "EURC",
		"BRL":    "BRLA",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
