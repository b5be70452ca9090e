package types

// SwapRequest represents a user's swap command
type SwapRequest struct {
	Amount      string `json:"amount"`
	SourceToken string `json:"source_token"`
	DestToken   string `json:"dest_token"`
}

// QuoteDisplay holds formatted quote information for display
type QuoteDisplay struct {
	SourceAmount string `json:"source_amount"`
	SourceToken  string `json:"source_token"`
	DestAmount   string `json:"dest_amount"`
	DestToken    string `json:"dest_token"`
	Rate         string `json:"rate"`
	Fee          string `json:"fee"`
	MinAmountOut string `json:"min_amount_out"`
	NeedsApprove bool   `json:"needs_approval,omitempty"`
}

// BalanceLine is one token's balance and allowance toward the swap contract
type BalanceLine struct {
	Symbol    string `json:"symbol"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
	Unlimited bool   `json:"unlimited"`
}

// SwapResult reports a finished swap or approval
type SwapResult struct {
	Kind        string `json:"kind"`
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	ExplorerURL string `json:"explorer_url"`
}
