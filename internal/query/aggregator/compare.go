package aggregator

import (
	"fmt"
	"time"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// compareValues orders two field values. nil sorts before any present value.
// Numbers compare numerically, times as instants, strings lexicographically.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	fa, aOk := types.ToFloat(a)
	fb, bOk := types.ToFloat(b)
	if aOk && bOk {
		return cmpOrdered(fa, fb)
	}

	ta, aTime := a.(time.Time)
	tb, bTime := b.(time.Time)
	if aTime && bTime {
		return ta.Compare(tb)
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return cmpOrdered(sa, sb)
	}

	// sequences and mixed kinds fall back to their rendered form
	return cmpOrdered(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func cmpOrdered[T float64 | string](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
