package domain

import "testing"

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"free", TierFree},
		{"PRO", TierPro},
		{" Enterprise ", TierEnterprise},
		{"Verified", TierVerified},
		{"starter", TierStarter},
		{"platinum", TierFree},
		{"", TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeTier(tt.in); got != tt.want {
				t.Errorf("NormalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTier_Known(t *testing.T) {
	for _, tier := range KnownTiers {
		if !tier.Known() {
			t.Errorf("%q should be known", tier)
		}
	}
	if Tier("gold").Known() {
		t.Error("gold should not be known")
	}
}
