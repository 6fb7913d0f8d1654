package domain

import "strings"

// Tier is an account service level. It decides which limits apply.
type Tier string

const (
	TierFree       Tier = "free"
	TierVerified   Tier = "verified"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// KnownTiers lists every tier in ascending order of allowance.
var KnownTiers = []Tier{TierFree, TierVerified, TierStarter, TierPro, TierEnterprise}

// NormalizeTier lowercases s and maps anything unrecognized to TierFree,
// the most restrictive tier.
func NormalizeTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Known() {
		return t
	}
	return TierFree
}

func (t Tier) Known() bool {
	for _, k := range KnownTiers {
		if t == k {
			return true
		}
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}
