package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptBudget_Fresh(t *testing.T) {
	b := NewAttemptBudget(1001, 3, 0)
	assert.False(t, b.Exhausted())
	assert.Equal(t, 0, b.Used())
	assert.Equal(t, 3, b.Max())

	for want := 1; want <= 3; want++ {
		got, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, b.Exhausted())

	_, err := b.Next()
	require.Error(t, err)
	assert.True(t, IsBudgetExhaustedError(err))
	assert.Contains(t, err.Error(), "fixture 1001")
	assert.Equal(t, 3, b.Used(), "a refused Next does not count")
}

func TestAttemptBudget_PriorAttempts(t *testing.T) {
	tests := []struct {
		name      string
		prior     int
		remaining int
	}{
		{"none", 0, 3},
		{"one", 1, 2},
		{"two", 2, 1},
		{"spent", 3, 0},
		{"overspent", 5, 0},
		{"negative", -1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewAttemptBudget(7, 3, tt.prior)
			n := 0
			for !b.Exhausted() {
				_, err := b.Next()
				require.NoError(t, err)
				n++
			}
			assert.Equal(t, tt.remaining, n)
		})
	}
}

func TestAttemptBudget_NumbersContinue(t *testing.T) {
	b := NewAttemptBudget(7, 3, 2)
	got, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestIsBudgetExhaustedError_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", &BudgetExhaustedError{ItemID: 1, Attempts: 3, Limit: 3})
	assert.True(t, IsBudgetExhaustedError(err))
	assert.False(t, IsBudgetExhaustedError(fmt.Errorf("plain")))
	assert.False(t, IsBudgetExhaustedError(nil))
}
