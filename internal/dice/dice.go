// Package dice rolls tabletop dice expressions such as "2d6+3".
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultExpression is rolled when the expression is empty.
	DefaultExpression = "1d20"

	MaxDice  = 100
	MaxSides = 1000
)

// ErrInvalidExpression is returned for expressions that are not NdM[+|-K].
var ErrInvalidExpression = errors.New("invalid dice expression")

var expressionRe = regexp.MustCompile(`^(\d*)d(\d+)(?:([+-])(\d+))?$`)

// Result is the outcome of one roll.
type Result struct {
	Dice     int
	Sides    int
	Modifier int
	Rolls    []int
	Total    int
}

// Expression returns the normalized expression that was rolled.
func (r Result) Expression() string {
	switch {
	case r.Modifier > 0:
		return fmt.Sprintf("%dd%d+%d", r.Dice, r.Sides, r.Modifier)
	case r.Modifier < 0:
		return fmt.Sprintf("%dd%d-%d", r.Dice, r.Sides, -r.Modifier)
	}
	return fmt.Sprintf("%dd%d", r.Dice, r.Sides)
}

// String renders the roll for a chat reply.
func (r Result) String() string {
	rolls := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		rolls[i] = strconv.Itoa(v)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎲 %s: [%s]", r.Expression(), strings.Join(rolls, ", "))
	switch {
	case r.Modifier > 0:
		fmt.Fprintf(&sb, " + %d", r.Modifier)
	case r.Modifier < 0:
		fmt.Fprintf(&sb, " - %d", -r.Modifier)
	}
	fmt.Fprintf(&sb, " = %d", r.Total)
	return sb.String()
}

// Parse validates expr and returns the dice count, sides and modifier.
func Parse(expr string) (dice, sides, modifier int, err error) {
	expr = strings.ToLower(strings.ReplaceAll(expr, " ", ""))
	if expr == "" {
		expr = DefaultExpression
	}
	m := expressionRe.FindStringSubmatch(expr)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%q: %w", expr, ErrInvalidExpression)
	}

	dice = 1
	if m[1] != "" {
		if dice, err = strconv.Atoi(m[1]); err != nil {
			return 0, 0, 0, fmt.Errorf("%q: %w", expr, ErrInvalidExpression)
		}
	}
	if sides, err = strconv.Atoi(m[2]); err != nil {
		return 0, 0, 0, fmt.Errorf("%q: %w", expr, ErrInvalidExpression)
	}
	if m[4] != "" {
		if modifier, err = strconv.Atoi(m[4]); err != nil {
			return 0, 0, 0, fmt.Errorf("%q: %w", expr, ErrInvalidExpression)
		}
		if m[3] == "-" {
			modifier = -modifier
		}
	}

	if dice < 1 || dice > MaxDice {
		return 0, 0, 0, fmt.Errorf("%q: dice count must be 1..%d: %w", expr, MaxDice, ErrInvalidExpression)
	}
	if sides < 2 || sides > MaxSides {
		return 0, 0, 0, fmt.Errorf("%q: sides must be 2..%d: %w", expr, MaxSides, ErrInvalidExpression)
	}
	return dice, sides, modifier, nil
}

// Roll parses expr and rolls it with rng. A nil rng uses the global source.
func Roll(expr string, rng *rand.Rand) (Result, error) {
	n, sides, mod, err := Parse(expr)
	if err != nil {
		return Result{}, err
	}
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}

	r := Result{Dice: n, Sides: sides, Modifier: mod, Rolls: make([]int, n)}
	for i := range r.Rolls {
		r.Rolls[i] = intN(sides) + 1
		r.Total += r.Rolls[i]
	}
	r.Total += mod
	return r, nil
}
