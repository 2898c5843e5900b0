package policy

import (
	"sort"

	"github.com/fastusdc/cctp-relayer/internal/types"
)

// Result is the outcome of evaluating a single transfer against a chain
// policy: how many confirmations to wait for and which risk flags apply.
type Result struct {
	Confirmations uint64
	Risks         []string
}

// ConfirmationsFor picks the confirmation count for amount from the ascending
// threshold ladder. Returns -1 when amount exceeds every threshold.
func ConfirmationsFor(amount uint64, thresholds []types.TxThreshold) int64 {
	sorted := append([]types.TxThreshold(nil), thresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxAmount < sorted[j].MaxAmount })

	for _, t := range sorted {
		if amount <= t.MaxAmount {
			return int64(t.Confirmations)
		}
	}
	return -1
}

// Evaluate applies the chain policy to a transfer. windowSum is the risk-free
// amount already counted in the current block window; the transfer itself is
// added on top before comparing against the window cap.
//
// Risk flags never block a submission, they ride along in the evidence so the
// destination contract can quarantine the transfer.
func Evaluate(amount uint64, p types.ChainPolicy, windowSum uint64) Result {
	res := Result{Confirmations: p.Confirmations}

	// an absent ladder means the chain-wide depth applies to any amount
	if len(p.TxThresholds) > 0 {
		conf := ConfirmationsFor(amount, p.TxThresholds)
		if conf >= 0 {
			res.Confirmations = uint64(conf)
		} else {
			res.Risks = append(res.Risks, types.RiskTxLimitExceeded)
		}
	}

	if p.RateLimits.Tx > 0 && amount > p.RateLimits.Tx && !contains(res.Risks, types.RiskTxLimitExceeded) {
		res.Risks = append(res.Risks, types.RiskTxLimitExceeded)
	}

	if p.RateLimits.BlockWindow > 0 && windowSum+amount > p.RateLimits.BlockWindow {
		res.Risks = append(res.Risks, types.RiskBlockRangeLimitExceeded)
	}

	return res
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
