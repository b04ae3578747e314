package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.Command("hvac/pump-1/relay"), "graylogic/command/hvac/pump-1/relay"},
		{"state", topics.State("hvac/pump-1/relay"), "graylogic/state/hvac/pump-1/relay"},
		{"all states", topics.AllStates(), "graylogic/state/#"},
		{"chain event", topics.ChainEvent("pump-1", "settled"), "graylogic/core/vdev/pump-1/settled"},
		{"system status", topics.SystemStatus(), "graylogic/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStateTarget(t *testing.T) {
	tests := []struct {
		topic  string
		target string
		ok     bool
	}{
		{"graylogic/state/relay", "relay", true},
		{"graylogic/state/hvac/pump-1/speed", "hvac/pump-1/speed", true},
		{"graylogic/state/", "", false},
		{"graylogic/command/relay", "", false},
		{"other/state/relay", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			target, ok := Topics{}.StateTarget(tt.topic)
			if target != tt.target || ok != tt.ok {
				t.Errorf("StateTarget(%q) = %q, %v; want %q, %v", tt.topic, target, ok, tt.target, tt.ok)
			}
		})
	}
}

func TestStateTarget_RoundTrip(t *testing.T) {
	target := "floor1/blind-3/position"
	got, ok := Topics{}.StateTarget(Topics{}.State(target))
	if !ok || got != target {
		t.Errorf("round trip = %q, %v", got, ok)
	}
}

func TestValidateTarget(t *testing.T) {
	valid := []string{"relay", "hvac/pump-1/relay", "knx/1.2.3"}
	for _, target := range valid {
		if err := ValidateTarget(target); err != nil {
			t.Errorf("ValidateTarget(%q) error = %v", target, err)
		}
	}

	invalid := []string{"", "hvac/+/relay", "hvac/#", "/relay", "relay/", "a//b", "nul\x00"}
	for _, target := range invalid {
		if err := ValidateTarget(target); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateTarget(%q) error = %v, want ErrInvalidTopic", target, err)
		}
	}
}
