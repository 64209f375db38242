package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allLocalStatuses = []LocalStatus{
	LocalStatusPending, LocalStatusApproved, LocalStatusRejected, LocalStatusImported,
}

func genLocalStatus() gopter.Gen {
	return gen.IntRange(0, len(allLocalStatuses)-1).Map(func(i int) LocalStatus {
		return allLocalStatuses[i]
	})
}

func rank(s LocalStatus) int {
	switch s {
	case LocalStatusPending:
		return 0
	case LocalStatusApproved:
		return 1
	default:
		return 2
	}
}

// Any sequence of attempted transitions only ever moves forward and never leaves imported.
func TestLocalStatusMonotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("transitions never move backwards", prop.ForAll(
		func(steps []LocalStatus) bool {
			cur := LocalStatusPending
			for _, next := range steps {
				moved, err := cur.TransitionTo(next)
				if err != nil {
					if moved != cur {
						return false
					}
					continue
				}
				if rank(moved) <= rank(cur) {
					return false
				}
				if cur.IsTerminal() {
					return false
				}
				cur = moved
			}
			return true
		},
		gen.SliceOf(genLocalStatus()),
	))

	properties.Property("imported is absorbing", prop.ForAll(
		func(next LocalStatus) bool {
			return !LocalStatusImported.CanTransitionTo(next)
		},
		genLocalStatus(),
	))

	properties.TestingRun(t)
}
