// internal/cashback/resolver.go
package cashback

import (
	"fmt"
	"strings"
)

type PolicySource string

const (
	SourceLegacy         PolicySource = "legacy"
	SourceProgramDefault PolicySource = "program_default"
	SourceLevelDefault   PolicySource = "level_default"
	SourceCategoryRule   PolicySource = "category_rule"
)

// Metadata explains where a resolved rate came from. Downstream aggregation
// depends on it being present on every virtual entry.
type Metadata struct {
	PolicySource  PolicySource `json:"policySource"`
	Reason        string       `json:"reason"`
	Rate          float64      `json:"rate"`
	LevelID       string       `json:"levelId,omitempty"`
	LevelName     string       `json:"levelName,omitempty"`
	LevelMinSpend *float64     `json:"levelMinSpend,omitempty"`
	CategoryID    string       `json:"categoryId,omitempty"`
	RuleID        string       `json:"ruleId,omitempty"`
	RuleMaxReward *float64     `json:"ruleMaxReward,omitempty"`
}

type Resolution struct {
	Rate      float64  `json:"rate"`
	MaxReward *float64 `json:"maxReward,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// Resolve picks the effective rate and cap for one spend event. Pure: it
// reads only the parsed program and its arguments.
//
// Precedence: the highest level whose MinTotalSpend <= cycleSpentSoFar
// (inclusive) supplies the default; the first declared rule of that level
// matching categoryID fully overrides it. Programs without structured levels
// fall back to the legacy tier matcher. Each layer replaces the rate
// outright, nothing blends.
func Resolve(p Program, categoryID string, amount, cycleSpentSoFar float64) Resolution {
	if len(p.Levels) == 0 && len(p.LegacyTiers) > 0 {
		return resolveLegacy(p, categoryID, cycleSpentSoFar)
	}

	level := qualifyingLevel(p, cycleSpentSoFar)
	if level == nil {
		return Resolution{
			Rate: p.DefaultRate,
			Metadata: Metadata{
				PolicySource: SourceProgramDefault,
				Reason:       "no spend level qualifies, program default applies",
				Rate:         p.DefaultRate,
			},
		}
	}

	rate := p.DefaultRate
	if level.DefaultRate != nil {
		rate = *level.DefaultRate
	}
	minSpend := level.MinTotalSpend
	md := Metadata{
		PolicySource:  SourceLevelDefault,
		Reason:        fmt.Sprintf("level %q default rate", levelLabel(level)),
		Rate:          rate,
		LevelID:       level.ID,
		LevelName:     level.Name,
		LevelMinSpend: &minSpend,
	}

	if categoryID != "" {
		if rule := firstMatchingRule(level, categoryID); rule != nil {
			md.PolicySource = SourceCategoryRule
			md.Reason = fmt.Sprintf("category rule %q in level %q", rule.ID, levelLabel(level))
			md.Rate = rule.Rate
			md.CategoryID = categoryID
			md.RuleID = rule.ID
			md.RuleMaxReward = rule.MaxReward
			return Resolution{Rate: rule.Rate, MaxReward: rule.MaxReward, Metadata: md}
		}
	}
	return Resolution{Rate: rate, Metadata: md}
}

// qualifyingLevel returns the level with the highest MinTotalSpend still
// covered by spent. Levels are sorted descending at parse time, so the first
// hit wins.
func qualifyingLevel(p Program, spent float64) *Level {
	for i := range p.Levels {
		if spent >= p.Levels[i].MinTotalSpend {
			return &p.Levels[i]
		}
	}
	return nil
}

// firstMatchingRule scans rules in declaration order; a category listed in
// several rules of one level resolves to the first only.
func firstMatchingRule(level *Level, categoryID string) *CategoryRule {
	for i := range level.Rules {
		for _, c := range level.Rules[i].CategoryIDs {
			if c == categoryID {
				return &level.Rules[i]
			}
		}
	}
	return nil
}

// resolveLegacy handles tier-only configs: richest tier unlocked by spend,
// then a case-insensitive substring match of the category name against the
// tier's category rates, then the tier default, then the flat program rate.
func resolveLegacy(p Program, categoryName string, spent float64) Resolution {
	md := Metadata{PolicySource: SourceLegacy, Rate: p.DefaultRate}

	var tier *LegacyTier
	for i := range p.LegacyTiers {
		if spent >= p.LegacyTiers[i].MinSpend {
			tier = &p.LegacyTiers[i]
			break
		}
	}
	if tier == nil {
		md.Reason = "no legacy tier unlocked, flat rate applies"
		return Resolution{Rate: p.DefaultRate, Metadata: md}
	}

	if categoryName != "" {
		needle := strings.ToLower(categoryName)
		for _, cr := range tier.Categories {
			if strings.Contains(needle, strings.ToLower(cr.Name)) {
				md.Reason = fmt.Sprintf("legacy tier category %q", cr.Name)
				md.Rate = cr.Rate
				md.CategoryID = categoryName
				return Resolution{Rate: cr.Rate, Metadata: md}
			}
		}
	}
	if tier.DefaultRate != nil {
		md.Reason = "legacy tier default rate"
		md.Rate = *tier.DefaultRate
		return Resolution{Rate: *tier.DefaultRate, Metadata: md}
	}
	md.Reason = "legacy flat rate"
	return Resolution{Rate: p.DefaultRate, Metadata: md}
}

func levelLabel(level *Level) string {
	if level.Name != "" {
		return level.Name
	}
	return level.ID
}
