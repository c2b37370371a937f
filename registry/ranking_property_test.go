package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: candidate ranking only ever contains agents with full
// capability coverage, is deterministic, and is totally ordered by
// (workload asc, success rate desc, id asc).
func TestListCandidates_RankingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New(DefaultConfig(), nil)

		capUniverse := []string{"u", "v", "w", "x", "y"}
		agentCount := rapid.IntRange(1, 12).Draw(t, "agent_count")

		capsByID := make(map[string]map[string]struct{})
		for i := 0; i < agentCount; i++ {
			id := fmt.Sprintf("agent-%02d", i)
			caps := rapid.SliceOfDistinct(
				rapid.SampledFrom(capUniverse),
				func(s string) string { return s },
			).Draw(t, fmt.Sprintf("caps_%d", i))

			require.NoError(t, r.Register(&AgentProfile{ID: id, Capabilities: caps}))

			set := make(map[string]struct{}, len(caps))
			for _, c := range caps {
				set[c] = struct{}{}
			}
			capsByID[id] = set

			workload := rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("workload_%d", i))
			require.NoError(t, r.UpdateWorkload(id, workload))

			outcomes := rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("outcomes_%d", i))
			for o := 0; o < outcomes; o++ {
				ok := rapid.Bool().Draw(t, fmt.Sprintf("success_%d_%d", i, o))
				require.NoError(t, r.RecordOutcome(id, ok, 0))
			}
		}

		required := rapid.SliceOfDistinct(
			rapid.SampledFrom(capUniverse),
			func(s string) string { return s },
		).Draw(t, "required")

		ranked := r.ListCandidates(required, nil)

		// Full coverage only.
		for _, c := range ranked {
			for _, req := range required {
				_, covered := capsByID[c.ID][req]
				require.True(t, covered, "agent %s ranked without capability %s", c.ID, req)
			}
		}

		// Total order.
		for i := 1; i < len(ranked); i++ {
			a, b := ranked[i-1], ranked[i]
			if a.CurrentWorkload != b.CurrentWorkload {
				require.Less(t, a.CurrentWorkload, b.CurrentWorkload)
			} else if a.SuccessRate != b.SuccessRate {
				require.Greater(t, a.SuccessRate, b.SuccessRate)
			} else {
				require.Less(t, a.ID, b.ID)
			}
		}

		// Deterministic: a second query returns the identical order.
		again := r.ListCandidates(required, nil)
		require.Equal(t, len(ranked), len(again))
		for i := range ranked {
			require.Equal(t, ranked[i].ID, again[i].ID)
		}
	})
}
