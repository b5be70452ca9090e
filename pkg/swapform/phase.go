package swapform

import "stablefx/pkg/txn"

// Phase is what the primary action currently represents
type Phase string

const (
	PhaseDisconnected       Phase = "disconnected"
	PhaseNeedsApproval      Phase = "needs-approval"
	PhaseApproving          Phase = "approving"
	PhaseConfirmingApproval Phase = "confirming-approval"
	PhaseReadyToSwap        Phase = "ready-to-swap"
	PhaseSubmittingSwap     Phase = "submitting-swap"
	PhaseConfirmingSwap     Phase = "confirming-swap"
	PhaseSuccess            Phase = "success"
	PhaseIdle               Phase = "idle"
)

// Label is the action button text for the phase
func (p Phase) Label(sourceSymbol string) string {
	switch p {
	case PhaseDisconnected:
		return "Connect Wallet to Swap"
	case PhaseNeedsApproval:
		return "Approve " + sourceSymbol
	case PhaseApproving, PhaseConfirmingApproval:
		return "Approving..."
	case PhaseSubmittingSwap:
		return "Confirming..."
	case PhaseConfirmingSwap:
		return "Processing..."
	case PhaseSuccess:
		return "Success!"
	default:
		return "Swap"
	}
}

// project derives the phase from connection, the approval gate and the
// transaction slot. A confirmed approval falls through to the gate so the
// form moves on to the swap once the refreshed allowance lands.
func project(connected, needsApproval, hasAmount bool, rec txn.Record) Phase {
	if !connected {
		return PhaseDisconnected
	}

	switch rec.Kind {
	case txn.KindApprove:
		switch rec.Phase {
		case txn.PhaseSubmitted:
			return PhaseApproving
		case txn.PhaseConfirming:
			return PhaseConfirmingApproval
		}
	case txn.KindSwap:
		switch rec.Phase {
		case txn.PhaseSubmitted:
			return PhaseSubmittingSwap
		case txn.PhaseConfirming:
			return PhaseConfirmingSwap
		case txn.PhaseConfirmed:
			return PhaseSuccess
		}
	}

	switch {
	case needsApproval:
		return PhaseNeedsApproval
	case hasAmount:
		return PhaseReadyToSwap
	default:
		return PhaseIdle
	}
}
