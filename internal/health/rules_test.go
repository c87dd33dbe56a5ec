package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRulesMerge(t *testing.T) {
	overrides := Rules{
		"battery": Bounded("Battery", 3.1, 4.2),
		"co":      Bounded("Carbon monoxide", 0, 100),
	}

	merged := DefaultRules.Merge(overrides)

	assert.Equal(t, 3.1, merged["battery"].Range.Min)
	assert.Equal(t, "Carbon monoxide", merged.Label("co"))
	assert.Equal(t, "PM 2.5", merged.Label("pm2_5"))

	// the base table is untouched
	assert.Equal(t, 2.7, DefaultRules["battery"].Range.Min)
	_, ok := DefaultRules["co"]
	assert.False(t, ok)
}

func TestRulesLookupFallsBack(t *testing.T) {
	rule := DefaultRules.Lookup("unknown_channel")
	assert.True(t, rule.Unbounded)
	assert.Equal(t, "unknown_channel", DefaultRules.Label("unknown_channel"))
}
