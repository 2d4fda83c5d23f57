package dice

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr                 string
		dice, sides, modifer int
	}{
		{"", 1, 20, 0},
		{"d6", 1, 6, 0},
		{"2d6", 2, 6, 0},
		{"2d6+3", 2, 6, 3},
		{"4D8 - 2", 4, 8, -2},
		{"100d1000", 100, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			n, s, m, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.dice, n)
			assert.Equal(t, tt.sides, s)
			assert.Equal(t, tt.modifer, m)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, expr := range []string{"abc", "2d", "0d6", "101d6", "1d1001", "1d1", "2d6+", "2d6*3", "-1d6"} {
		t.Run(expr, func(t *testing.T) {
			_, _, _, err := Parse(expr)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestRollBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		r, err := Roll("3d6+2", rng)
		require.NoError(t, err)
		require.Len(t, r.Rolls, 3)
		sum := 0
		for _, v := range r.Rolls {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 6)
			sum += v
		}
		assert.Equal(t, sum+2, r.Total)
	}
}

func TestRollDeterministic(t *testing.T) {
	a, err := Roll("5d20", rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	b, err := Roll("5d20", rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRollNilSource(t *testing.T) {
	r, err := Roll("", nil)
	require.NoError(t, err)
	assert.Equal(t, "1d20", r.Expression())
	assert.GreaterOrEqual(t, r.Total, 1)
	assert.LessOrEqual(t, r.Total, 20)
}

func TestResultString(t *testing.T) {
	r := Result{Dice: 2, Sides: 6, Modifier: -1, Rolls: []int{4, 2}, Total: 5}
	assert.Equal(t, "🎲 2d6-1: [4, 2] - 1 = 5", r.String())

	r = Result{Dice: 1, Sides: 20, Rolls: []int{17}, Total: 17}
	assert.Equal(t, "🎲 1d20: [17] = 17", r.String())
}
