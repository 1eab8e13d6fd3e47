// Package trust computes a bounded contextual trust score for a request and
// compares it against the threshold implied by the active security level.
package trust

import (
	"encoding/json"

	"github.com/canvasguard/canvasguard/internal/policy"
)

// Score bounds.
const (
	baseScore = 0.5

	highTierBonus    = 0.3
	mediumTierBonus  = 0.1
	lowTierPenalty   = 0.2
	historyBonusStep = 0.1
	maxHistoryLength = 50
	minHistoryLength = 20

	violationPenaltyStep = 0.1
	maxViolationPenalty  = 0.4

	lowComplexityBonus    = 0.1
	highComplexityPenalty = 0.1
	lowComplexityBytes    = 100
	highComplexityBytes   = 1000
)

// Threshold returns the minimum trust score the given security level accepts.
// Monotonic: paranoid >= strict >= moderate >= permissive.
func Threshold(level policy.SecurityLevel) float64 {
	switch level {
	case policy.LevelPermissive:
		return 0.2
	case policy.LevelModerate:
		return 0.5
	case policy.LevelStrict:
		return 0.7
	case policy.LevelParanoid:
		return 0.9
	default:
		return 0.5
	}
}

// Score combines the contextual signals into a value clamped to [0,1].
// Pure given its inputs; the prior-violation count is a read of recorded
// history supplied by the caller, not hidden state.
func Score(ctx policy.RequestContext, request *policy.CanvasRequest) float64 {
	score := baseScore

	switch ctx.UserTrustLevel {
	case policy.TrustHigh:
		score += highTierBonus
	case policy.TrustMedium:
		score += mediumTierBonus
	case policy.TrustLow:
		score -= lowTierPenalty
	}

	if ctx.ConversationLength > minHistoryLength {
		score += historyBonusStep
	}
	if ctx.ConversationLength > maxHistoryLength {
		score += historyBonusStep
	}

	penalty := violationPenaltyStep * float64(ctx.PriorViolations)
	if penalty > maxViolationPenalty {
		penalty = maxViolationPenalty
	}
	score -= penalty

	if size := requestSize(request); size > 0 {
		if size < lowComplexityBytes {
			score += lowComplexityBonus
		} else if size > highComplexityBytes {
			score -= highComplexityPenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// IsTrusted reports whether the context scores at or above the threshold for
// the given security level.
func IsTrusted(ctx policy.RequestContext, request *policy.CanvasRequest, level policy.SecurityLevel) bool {
	return Score(ctx, request) >= Threshold(level)
}

// requestSize measures request complexity as its serialised length.
func requestSize(request *policy.CanvasRequest) int {
	if request == nil {
		return 0
	}
	data, err := json.Marshal(request)
	if err != nil {
		return 0
	}
	return len(data)
}
