// internal/cashback/program.go
package cashback

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
)

type CycleType string

const (
	CycleNone          CycleType = ""
	CycleCalendarMonth CycleType = "calendar_month"
	CycleStatement     CycleType = "statement_cycle"
)

// Program is the canonical rewards configuration for one credit-card
// account. It is always derived from the raw stored blob via ParseProgram,
// never stored verbatim.
type Program struct {
	DefaultRate    float64  `json:"defaultRate"`
	MaxBudget      *float64 `json:"maxBudget,omitempty"`
	CycleType      CycleType `json:"cycleType,omitempty"`
	StatementDay   int      `json:"statementDay,omitempty"` // 0 when unset
	MinSpendTarget *float64 `json:"minSpendTarget,omitempty"`
	// Levels are sorted descending by MinTotalSpend so the resolver can take
	// the first qualifying entry (highest threshold wins).
	Levels []Level `json:"levels,omitempty"`
	// LegacyTiers carry pre-program tiered configs; only consulted when
	// Levels is empty.
	LegacyTiers []LegacyTier `json:"legacyTiers,omitempty"`
}

type Level struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	MinTotalSpend float64        `json:"minTotalSpend"`
	DefaultRate   *float64       `json:"defaultRate,omitempty"`
	MaxReward     *float64       `json:"maxReward,omitempty"` // advisory, not enforced
	Rules         []CategoryRule `json:"rules,omitempty"`
}

type CategoryRule struct {
	ID          string   `json:"id"`
	CategoryIDs []string `json:"categoryIds"`
	Rate        float64  `json:"rate"`
	MaxReward   *float64 `json:"maxReward,omitempty"`
}

type LegacyTier struct {
	MinSpend    float64              `json:"minSpend"`
	DefaultRate *float64             `json:"defaultRate,omitempty"`
	Categories  []LegacyCategoryRate `json:"categories,omitempty"`
}

// LegacyCategoryRate keeps declaration order; legacy configs stored category
// rates as an object, but match order must stay deterministic.
type LegacyCategoryRate struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"`
}

// rateScaleThreshold is the heuristic boundary between percentage-scale and
// decimal-scale rate inputs: anything >= 0.3 is treated as a percentage and
// divided by 100. Known ambiguity: a literal decimal rate in [0.3, 1.0)
// (a genuine 50% stored as 0.5) is misread as 0.5%. The stored data does not
// disambiguate further, so this threshold is kept as-is.
const rateScaleThreshold = 0.3

func normalizeRate(v float64) float64 {
	if !isFinite(v) || v <= 0 {
		return 0
	}
	if v >= rateScaleThreshold {
		v /= 100
	}
	if v > 1 {
		v = 1
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseProgram decodes a raw stored cashback configuration into a canonical
// Program. It accepts nil, a JSON string (possibly double-encoded), raw JSON
// bytes, or an already-decoded object, and never fails hard: malformed input
// logs a diagnostic and yields a zero-rate, no-cycle program.
func ParseProgram(raw any) Program {
	m, ok := decodeConfig(raw)
	if !ok {
		return Program{}
	}

	p := Program{}

	// Legacy flat keys first; the modern program sub-object overrides below.
	if v, ok := pickNumber(m, "rate", "cashback_rate", "default_rate"); ok {
		p.DefaultRate = normalizeRate(v)
	}
	if v, ok := pickNumber(m, "max_budget", "budget"); ok && v > 0 {
		p.MaxBudget = &v
	}
	if v, ok := pickNumber(m, "min_spend", "min_spend_target"); ok && v > 0 {
		p.MinSpendTarget = &v
	}
	p.CycleType = parseCycleType(pickString(m, "cycle_type"))
	if v, ok := pickNumber(m, "statement_day", "due_date"); ok {
		p.StatementDay = clampDay(int(v))
	}
	p.LegacyTiers = parseLegacyTiers(m["tiers"])

	if sub, ok := m["program"].(map[string]any); ok {
		applyProgramObject(&p, sub)
	}

	// statement_cycle never exists without a statement day.
	if p.CycleType == CycleStatement && p.StatementDay == 0 {
		p.CycleType = CycleCalendarMonth
	}

	sort.SliceStable(p.Levels, func(i, j int) bool {
		return p.Levels[i].MinTotalSpend > p.Levels[j].MinTotalSpend
	})
	sort.SliceStable(p.LegacyTiers, func(i, j int) bool {
		return p.LegacyTiers[i].MinSpend > p.LegacyTiers[j].MinSpend
	})
	return p
}

func applyProgramObject(p *Program, sub map[string]any) {
	if v, ok := pickNumber(sub, "default_rate", "rate"); ok {
		p.DefaultRate = normalizeRate(v)
	}
	if v, ok := pickNumber(sub, "max_budget", "budget"); ok {
		if v > 0 {
			p.MaxBudget = &v
		} else {
			p.MaxBudget = nil
		}
	}
	if v, ok := pickNumber(sub, "min_spend_target", "min_spend"); ok {
		if v > 0 {
			p.MinSpendTarget = &v
		} else {
			p.MinSpendTarget = nil
		}
	}
	if s := pickString(sub, "cycle_type"); s != "" {
		p.CycleType = parseCycleType(s)
	}
	if v, ok := pickNumber(sub, "statement_day", "due_date"); ok {
		p.StatementDay = clampDay(int(v))
	}
	if lvls, ok := sub["levels"].([]any); ok {
		p.Levels = parseLevels(lvls)
	}
}

func parseLevels(raw []any) []Level {
	levels := make([]Level, 0, len(raw))
	for i, lv := range raw {
		m, ok := lv.(map[string]any)
		if !ok {
			continue
		}
		level := Level{
			ID:   pickString(m, "id"),
			Name: pickString(m, "name"),
		}
		if level.ID == "" {
			level.ID = fmt.Sprintf("level-%d", i+1)
		}
		if v, ok := pickNumber(m, "min_total_spend", "min_spend"); ok && v > 0 {
			level.MinTotalSpend = v
		}
		if v, ok := pickNumber(m, "default_rate", "rate"); ok {
			r := normalizeRate(v)
			level.DefaultRate = &r
		}
		if v, ok := pickNumber(m, "max_reward"); ok && v > 0 {
			level.MaxReward = &v
		}
		if rules, ok := m["rules"].([]any); ok {
			level.Rules = parseRules(level.ID, rules)
		}
		levels = append(levels, level)
	}
	return levels
}

func parseRules(levelID string, raw []any) []CategoryRule {
	rules := make([]CategoryRule, 0, len(raw))
	for i, rv := range raw {
		m, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		rule := CategoryRule{ID: pickString(m, "id")}
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s/rule-%d", levelID, i+1)
		}
		switch cats := m["category_ids"].(type) {
		case []any:
			for _, c := range cats {
				if s, ok := c.(string); ok && s != "" {
					rule.CategoryIDs = append(rule.CategoryIDs, s)
				}
			}
		case string:
			if cats != "" {
				rule.CategoryIDs = []string{cats}
			}
		}
		if len(rule.CategoryIDs) == 0 {
			continue // a rule without a match set can never apply
		}
		if v, ok := pickNumber(m, "rate"); ok {
			rule.Rate = normalizeRate(v)
		}
		if v, ok := pickNumber(m, "max_reward"); ok && v > 0 {
			rule.MaxReward = &v
		}
		rules = append(rules, rule)
	}
	return rules
}

func parseLegacyTiers(raw any) []LegacyTier {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	tiers := make([]LegacyTier, 0, len(list))
	for _, tv := range list {
		m, ok := tv.(map[string]any)
		if !ok {
			continue
		}
		tier := LegacyTier{}
		if v, ok := pickNumber(m, "min_spend", "min_total_spend"); ok && v > 0 {
			tier.MinSpend = v
		}
		if v, ok := pickNumber(m, "rate", "default_rate"); ok {
			r := normalizeRate(v)
			tier.DefaultRate = &r
		}
		if cats, ok := m["categories"].(map[string]any); ok {
			names := make([]string, 0, len(cats))
			for name := range cats {
				names = append(names, name)
			}
			sort.Strings(names) // object keys carry no order; fix one
			for _, name := range names {
				if v, ok := toNumber(cats[name]); ok {
					tier.Categories = append(tier.Categories, LegacyCategoryRate{
						Name: name,
						Rate: normalizeRate(v),
					})
				}
			}
		}
		tiers = append(tiers, tier)
	}
	return tiers
}

// decodeConfig unwraps the stored value down to an object. Strings are
// JSON-decoded; a string decoding to another string is decoded once more
// (older clients stored the blob double-encoded).
func decodeConfig(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		slog.Debug("cashback config is empty, using zero program")
		return nil, false
	case map[string]any:
		return v, true
	case json.RawMessage:
		return decodeConfigBytes([]byte(v))
	case []byte:
		return decodeConfigBytes(v)
	case string:
		return decodeConfigBytes([]byte(v))
	default:
		slog.Warn("cashback config has unsupported shape", "type", fmt.Sprintf("%T", raw))
		return nil, false
	}
}

func decodeConfigBytes(b []byte) (map[string]any, bool) {
	if len(b) == 0 {
		slog.Debug("cashback config is empty, using zero program")
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		slog.Warn("cashback config is not valid JSON, using zero program", "error", err)
		return nil, false
	}
	if s, ok := decoded.(string); ok {
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			slog.Warn("double-encoded cashback config is not valid JSON, using zero program", "error", err)
			return nil, false
		}
	}
	switch m := decoded.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	default:
		slog.Warn("cashback config is not an object, using zero program", "type", fmt.Sprintf("%T", decoded))
		return nil, false
	}
}

func parseCycleType(s string) CycleType {
	switch s {
	case string(CycleCalendarMonth), "monthly", "month":
		return CycleCalendarMonth
	case string(CycleStatement), "statement":
		return CycleStatement
	default:
		return CycleNone
	}
}

func clampDay(d int) int {
	if d < 1 {
		return 1
	}
	if d > 31 {
		return 31
	}
	return d
}

func pickNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, present := m[k]; present {
			if n, ok := toNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

// toNumber coerces the loosely typed values found in stored configs. Strings
// are parsed; non-finite results are rejected.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, isFinite(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && isFinite(f)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil && isFinite(f)
	default:
		return 0, false
	}
}
