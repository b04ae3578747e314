package chain

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		chain   Chain
		wantErr error
	}{
		{
			name:  "valid",
			chain: relaySpeedChain(1000),
		},
		{
			name: "delay and default timeout",
			chain: Chain{
				{Target: "a", Value: "x", WaitBefore: Delay(0)},
				{Target: "b", Value: 1.5, WaitBefore: StateMatch("a", "x", 0)},
			},
		},
		{
			name:    "empty",
			chain:   Chain{},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "blank target",
			chain:   Chain{{Target: "  ", Value: 1}},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "non-scalar value",
			chain:   Chain{{Target: "a", Value: []int{1}}},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "nil value",
			chain:   Chain{{Target: "a"}},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "negative delay",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: Delay(-5)}},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "unknown wait type",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: "sunset"}}},
			wantErr: ErrMalformedCondition,
		},
		{
			name:    "delay with target",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: WaitDelay, Target: "b"}}},
			wantErr: ErrMalformedCondition,
		},
		{
			name:    "state without expected",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: WaitState, Target: "b"}}},
			wantErr: ErrMalformedCondition,
		},
		{
			name:    "state without target",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: WaitState, Expected: true}}},
			wantErr: ErrInvalidChain,
		},
		{
			name:    "state with duration",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: WaitState, Target: "b", Expected: 1, DurationMS: 5}}},
			wantErr: ErrMalformedCondition,
		},
		{
			name:    "negative timeout",
			chain:   Chain{{Target: "a", Value: 1, WaitBefore: StateMatch("b", 1, -1)}},
			wantErr: ErrInvalidChain,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.chain)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChainClone(t *testing.T) {
	orig := relaySpeedChain(1000)
	cp := orig.Clone()

	cp[1].WaitBefore.Target = "changed"
	cp[0].Value = false

	if orig[1].WaitBefore.Target != "relay" {
		t.Error("Clone shares WaitBefore with the original")
	}
	if orig[0].Value != true {
		t.Error("Clone shares steps with the original")
	}
	if Chain(nil).Clone() != nil {
		t.Error("Clone of nil chain should be nil")
	}
}

func TestChainTargets(t *testing.T) {
	c := Chain{
		{Target: "relay", Value: true},
		{Target: "speed", Value: 2, WaitBefore: StateMatch("relay", true, 0)},
		{Target: "relay", Value: false, WaitBefore: StateMatch("flow", "ok", 0)},
	}
	got := c.Targets()
	want := []string{"relay", "speed"}
	if len(got) != len(want) {
		t.Fatalf("Targets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Targets()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
