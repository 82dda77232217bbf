package message_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rocisdk/agentcore/message"
)

func usageFromInts(input, output, total, cacheRead, cacheCreation, reasoning int) message.Usage {
	return message.Usage{
		InputTokens:     input,
		OutputTokens:    output,
		TotalTokens:     total,
		CacheRead:       cacheRead,
		CacheCreation:   cacheCreation,
		ReasoningTokens: reasoning,
	}
}

// TestUsageMergeProperties verifies spec.md §8's "usage in RunResult equals
// the field-wise sum of all per-step usages" invariant holds regardless of
// how the per-step usages are grouped or ordered.
func TestUsageMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	tokenGen := gen.IntRange(0, 1_000_000)

	properties.Property("merge is commutative", prop.ForAll(
		func(ai, ao, at, bi, bo, bt int) bool {
			a := usageFromInts(ai, ao, at, 0, 0, 0)
			b := usageFromInts(bi, bo, bt, 0, 0, 0)
			return a.Merge(b) == b.Merge(a)
		},
		tokenGen, tokenGen, tokenGen, tokenGen, tokenGen, tokenGen,
	))

	properties.Property("merge is associative", prop.ForAll(
		func(ai, bi, ci int) bool {
			a := usageFromInts(ai, ai, ai, ai, ai, ai)
			b := usageFromInts(bi, bi, bi, bi, bi, bi)
			c := usageFromInts(ci, ci, ci, ci, ci, ci)
			left := a.Merge(b).Merge(c)
			right := a.Merge(b.Merge(c))
			return left == right
		},
		tokenGen, tokenGen, tokenGen,
	))

	properties.Property("zero usage is the merge identity", prop.ForAll(
		func(i, o, tt, cr, cc, r int) bool {
			a := usageFromInts(i, o, tt, cr, cc, r)
			return a.Merge(message.Usage{}) == a
		},
		tokenGen, tokenGen, tokenGen, tokenGen, tokenGen, tokenGen,
	))

	properties.Property("merged total tokens is the sum of the parts' totals", prop.ForAll(
		func(at, bt int) bool {
			a := usageFromInts(0, 0, at, 0, 0, 0)
			b := usageFromInts(0, 0, bt, 0, 0, 0)
			return a.Merge(b).TotalTokens == at+bt
		},
		tokenGen, tokenGen,
	))

	properties.TestingRun(t)
}
