package config

import (
	"fmt"
	"time"
)

// Tier is the authentication level, which determines quota allowances and the
// maximum batch size per request.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
)

// TierLimits are the provider allowances for one tier.
type TierLimits struct {
	ShortLimit   int
	ShortWindow  time.Duration
	DailyLimit   int
	DailyWindow  time.Duration
	MaxBatchSize int
}

var tierLimits = map[Tier]TierLimits{
	TierAnonymous: {
		ShortLimit:   10,
		ShortWindow:  10 * time.Minute,
		DailyLimit:   100,
		DailyWindow:  24 * time.Hour,
		MaxBatchSize: 25,
	},
	TierAuthenticated: {
		ShortLimit:   60,
		ShortWindow:  10 * time.Minute,
		DailyLimit:   4000,
		DailyWindow:  24 * time.Hour,
		MaxBatchSize: 100,
	},
}

// LimitsFor returns the allowance table entry for a tier.
func LimitsFor(tier Tier) TierLimits {
	return tierLimits[tier]
}

func TierFromString(s string) (Tier, error) {
	switch Tier(s) {
	case TierAnonymous, TierAuthenticated:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q (expected anonymous or authenticated)", s)
	}
}
