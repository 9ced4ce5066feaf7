package types

import "testing"

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to VMState
		want     bool
	}{
		{VMStateInitializing, VMStateReady, true},
		{VMStateInitializing, VMStateError, true},
		{VMStateInitializing, VMStateStopped, false},
		{VMStateReady, VMStateStopped, true},
		{VMStateReady, VMStateError, true},
		{VMStateReady, VMStateInitializing, false},
		{VMStateStopped, VMStateReady, false},
		{VMStateStopped, VMStateError, false},
		{VMStateError, VMStateReady, false},
		{VMStateError, VMStateInitializing, false},
	}
	for _, c := range cases {
		if got := c.from.CanAdvance(c.to); got != c.want {
			t.Errorf("%s → %s = %t, want %t", c.from, c.to, got, c.want)
		}
	}
}
