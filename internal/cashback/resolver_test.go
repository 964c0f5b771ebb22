// internal/cashback/resolver_test.go
package cashback

import (
	"testing"
)

func f(v float64) *float64 { return &v }

func tieredProgram() Program {
	// Mirrors a typical stored program: 1% base, one tier at 10M unlocking
	// 2% plus a 10% education rule capped at 300k.
	return ParseProgram(`{
		"program": {
			"default_rate": 0.01,
			"levels": [
				{"id": "l1", "name": "Silver", "min_total_spend": 10000000, "default_rate": 0.02,
				 "rules": [{"id": "r-edu", "category_ids": ["edu"], "rate": 0.1, "max_reward": 300000}]}
			]
		}
	}`)
}

func TestResolveRatePrecedence(t *testing.T) {
	p := tieredProgram()

	tests := []struct {
		name       string
		categoryID string
		spent      float64
		wantRate   float64
		wantSource PolicySource
	}{
		{"below threshold falls back to program default", "edu", 5000000, 0.01, SourceProgramDefault},
		{"level unlocked, no category", "", 15000000, 0.02, SourceLevelDefault},
		{"level unlocked, rule category", "edu", 15000000, 0.1, SourceCategoryRule},
		{"level unlocked, unknown category", "fuel", 15000000, 0.02, SourceLevelDefault},
		{"threshold is inclusive", "", 10000000, 0.02, SourceLevelDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(p, tt.categoryID, 100000, tt.spent)
			if res.Rate != tt.wantRate {
				t.Errorf("Rate = %v, want %v", res.Rate, tt.wantRate)
			}
			if res.Metadata.PolicySource != tt.wantSource {
				t.Errorf("PolicySource = %q, want %q", res.Metadata.PolicySource, tt.wantSource)
			}
			if res.Metadata.Rate != res.Rate {
				t.Errorf("Metadata.Rate = %v, out of sync with Rate %v", res.Metadata.Rate, res.Rate)
			}
		})
	}
}

func TestResolveRuleCapCarried(t *testing.T) {
	res := Resolve(tieredProgram(), "edu", 100000, 15000000)
	if res.MaxReward == nil || *res.MaxReward != 300000 {
		t.Errorf("MaxReward = %v, want 300000", res.MaxReward)
	}
	if res.Metadata.RuleID != "r-edu" {
		t.Errorf("RuleID = %q, want r-edu", res.Metadata.RuleID)
	}
	if res.Metadata.RuleMaxReward == nil || *res.Metadata.RuleMaxReward != 300000 {
		t.Errorf("RuleMaxReward = %v, want 300000", res.Metadata.RuleMaxReward)
	}
}

func TestResolveHighestQualifyingLevelWins(t *testing.T) {
	p := Program{
		DefaultRate: 0.01,
		Levels: []Level{
			{ID: "gold", MinTotalSpend: 30000000, DefaultRate: f(0.03)},
			{ID: "silver", MinTotalSpend: 10000000, DefaultRate: f(0.02)},
		},
	}
	res := Resolve(p, "", 1, 35000000)
	if res.Metadata.LevelID != "gold" || res.Rate != 0.03 {
		t.Errorf("resolved %q at %v, want gold at 0.03", res.Metadata.LevelID, res.Rate)
	}
	res = Resolve(p, "", 1, 12000000)
	if res.Metadata.LevelID != "silver" || res.Rate != 0.02 {
		t.Errorf("resolved %q at %v, want silver at 0.02", res.Metadata.LevelID, res.Rate)
	}
}

func TestResolveFirstDeclaredRuleWins(t *testing.T) {
	p := Program{
		DefaultRate: 0.01,
		Levels: []Level{
			{ID: "l1", MinTotalSpend: 0, Rules: []CategoryRule{
				{ID: "first", CategoryIDs: []string{"dining"}, Rate: 0.05},
				{ID: "second", CategoryIDs: []string{"dining"}, Rate: 0.08},
			}},
		},
	}
	res := Resolve(p, "dining", 1, 0)
	if res.Metadata.RuleID != "first" || res.Rate != 0.05 {
		t.Errorf("resolved rule %q at %v, want first at 0.05 (no blending)", res.Metadata.RuleID, res.Rate)
	}
}

func TestResolveLevelWithoutOwnRateUsesProgramDefault(t *testing.T) {
	p := Program{
		DefaultRate: 0.01,
		Levels:      []Level{{ID: "l1", MinTotalSpend: 0}},
	}
	res := Resolve(p, "", 1, 100)
	if res.Rate != 0.01 || res.Metadata.PolicySource != SourceLevelDefault {
		t.Errorf("Rate = %v source = %q, want 0.01 via level_default", res.Rate, res.Metadata.PolicySource)
	}
}

func TestResolveLegacyTiers(t *testing.T) {
	p := Program{
		DefaultRate: 0.005,
		LegacyTiers: []LegacyTier{
			{MinSpend: 10000000, DefaultRate: f(0.02), Categories: []LegacyCategoryRate{
				{Name: "grocery", Rate: 0.05},
			}},
			{MinSpend: 0, DefaultRate: f(0.01)},
		},
	}

	// Substring category match, case-insensitive.
	res := Resolve(p, "Online Grocery Stores", 1, 12000000)
	if res.Rate != 0.05 || res.Metadata.PolicySource != SourceLegacy {
		t.Errorf("Rate = %v source = %q, want 0.05 via legacy", res.Rate, res.Metadata.PolicySource)
	}

	// Unlocked tier default when no category matches.
	res = Resolve(p, "fuel", 1, 12000000)
	if res.Rate != 0.02 {
		t.Errorf("Rate = %v, want tier default 0.02", res.Rate)
	}

	// Richest unlocked tier wins; below every tier the flat rate applies.
	res = Resolve(p, "", 1, 500)
	if res.Rate != 0.01 {
		t.Errorf("Rate = %v, want base tier default 0.01", res.Rate)
	}
}

func TestResolveAlwaysReturnsMetadata(t *testing.T) {
	for _, p := range []Program{
		{},
		{DefaultRate: 0.01},
		tieredProgram(),
	} {
		res := Resolve(p, "anything", 1, 0)
		if res.Metadata.PolicySource == "" {
			t.Errorf("Resolve(%+v) returned empty PolicySource", p)
		}
		if res.Metadata.Reason == "" {
			t.Errorf("Resolve(%+v) returned empty Reason", p)
		}
	}
}
