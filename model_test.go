// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package bdp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVectorClockCompareConcurrentIffIncomparable checks that Compare
// reports concurrent exactly when neither clock dominates the other; the
// Sync Planner relies on exactly this.
func TestVectorClockCompareConcurrentIffIncomparable(t *testing.T) {
	a, _ := NewDeviceID()
	b, _ := NewDeviceID()

	tests := []struct {
		name string
		x, y VectorClock
		want ClockOrder
	}{
		{"identical-empty", VectorClock{}, VectorClock{}, ClockIdentical},
		{"identical", VectorClock{a: 1}, VectorClock{a: 1}, ClockIdentical},
		{"a-wins", VectorClock{a: 2}, VectorClock{a: 1}, ClockAWins},
		{"b-wins", VectorClock{a: 1}, VectorClock{a: 2}, ClockBWins},
		{"concurrent-disjoint", VectorClock{a: 1}, VectorClock{b: 1}, ClockConcurrent},
		{"concurrent-mixed", VectorClock{a: 2}, VectorClock{a: 1, b: 1}, ClockConcurrent},
		{"a-wins-superset", VectorClock{a: 1, b: 1}, VectorClock{a: 1}, ClockAWins},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.x.Compare(tt.y))
			// Compare is antisymmetric for the Wins cases and symmetric for
			// Identical/Concurrent.
			rev := tt.y.Compare(tt.x)
			switch tt.want {
			case ClockAWins:
				require.Equal(t, ClockBWins, rev)
			case ClockBWins:
				require.Equal(t, ClockAWins, rev)
			default:
				require.Equal(t, tt.want, rev)
			}
		})
	}
}

func TestVectorClockCloneIsIndependent(t *testing.T) {
	d, _ := NewDeviceID()
	vc := VectorClock{d: 1}
	clone := vc.Clone()
	clone[d] = 2
	require.Equal(t, uint64(1), vc[d])
	require.Equal(t, uint64(2), clone[d])
}
