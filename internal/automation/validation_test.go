package automation

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(d *Device)
		limits  Limits
		wantErr error
	}{
		{
			name:   "valid device",
			modify: func(_ *Device) {},
		},
		{
			name:    "empty name",
			modify:  func(d *Device) { d.Name = "  " },
			wantErr: ErrInvalidName,
		},
		{
			name:    "name too long",
			modify:  func(d *Device) { d.Name = strings.Repeat("x", maxNameLength+1) },
			wantErr: ErrInvalidName,
		},
		{
			name:    "bad slug",
			modify:  func(d *Device) { d.Slug = "Pump_1" },
			wantErr: ErrInvalidSlug,
		},
		{
			name: "description too long",
			modify: func(d *Device) {
				desc := strings.Repeat("d", maxDescriptionLen+1)
				d.Description = &desc
			},
			wantErr: ErrInvalidDevice,
		},
		{
			name:    "no transitions",
			modify:  func(d *Device) { d.Transitions = nil },
			wantErr: ErrNoTransitions,
		},
		{
			name: "bad transition name",
			modify: func(d *Device) {
				d.Transitions["Turn On"] = pumpChain(0)
			},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "empty chain",
			modify: func(d *Device) {
				d.Transitions["purge"] = chain.Chain{}
			},
			wantErr: chain.ErrInvalidChain,
		},
		{
			name: "malformed wait condition",
			modify: func(d *Device) {
				d.Transitions["purge"] = chain.Chain{
					{Target: "valve", Value: "open", WaitBefore: &chain.WaitCondition{Type: "sometime"}},
				}
			},
			wantErr: chain.ErrMalformedCondition,
		},
		{
			name:    "too many steps",
			modify:  func(_ *Device) {},
			limits:  Limits{MaxSteps: 1},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "delay over limit",
			modify:  func(_ *Device) {},
			limits:  Limits{MaxDelayMS: 5},
			wantErr: ErrInvalidTransition,
		},
		{
			name:   "limits satisfied",
			modify: func(_ *Device) {},
			limits: Limits{MaxSteps: 2, MaxDelayMS: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice("dev-1", "Pump 1")
			tt.modify(d)

			err := ValidateDevice(d, tt.limits)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevice_Nil(t *testing.T) {
	if err := ValidateDevice(nil, Limits{}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v", err)
	}
}

func TestValidateTransition_ReportsTransitionName(t *testing.T) {
	d := testDevice("dev-1", "Pump 1")
	d.Transitions["purge"] = chain.Chain{{Target: "", Value: 1}}

	err := ValidateDevice(d, Limits{})
	if err == nil || !strings.Contains(err.Error(), `transition "purge"`) {
		t.Errorf("error = %v, want it to name the transition", err)
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Pump 1", "pump-1"},
		{"Heat_Pump  Circulator", "heat-pump-circulator"},
		{"  Boiler!  ", "boiler"},
		{"Zone--A", "zone-a"},
		{strings.Repeat("a", 60), strings.Repeat("a", maxSlugLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateSlug(tt.name)
			if got != tt.want {
				t.Errorf("GenerateSlug(%q) = %q, want %q", tt.name, got, tt.want)
			}
			if err := ValidateSlug(got); err != nil {
				t.Errorf("generated slug %q is invalid: %v", got, err)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("GenerateID returned duplicate IDs")
	}
	if len(a) != 36 {
		t.Errorf("GenerateID length = %d, want 36", len(a))
	}
}

func TestDevice_DeepCopy(t *testing.T) {
	desc := "main loop"
	orig := testDevice("dev-1", "Pump 1")
	orig.Description = &desc

	cpy := orig.DeepCopy()
	cpy.Transitions["on"][0].Value = false
	cpy.Transitions["on"][1].WaitBefore.Expected = false
	*cpy.Description = "changed"
	delete(cpy.Transitions, "off")

	if orig.Transitions["on"][0].Value != true {
		t.Error("step value shared with copy")
	}
	if orig.Transitions["on"][1].WaitBefore.Expected != true {
		t.Error("wait condition shared with copy")
	}
	if *orig.Description != "main loop" {
		t.Error("description shared with copy")
	}
	if _, ok := orig.Transitions["off"]; !ok {
		t.Error("transitions map shared with copy")
	}
	if (*Device)(nil).DeepCopy() != nil {
		t.Error("DeepCopy(nil) should be nil")
	}
}

func TestDevice_TransitionNames(t *testing.T) {
	got := testDevice("dev-1", "Pump 1").TransitionNames()
	if len(got) != 2 || got[0] != "off" || got[1] != "on" {
		t.Errorf("TransitionNames() = %v, want [off on]", got)
	}
}

func TestDevice_Targets(t *testing.T) {
	dev := testDevice("dev-1", "Pump 1")
	dev.Transitions["flush"] = chain.Chain{
		{Target: "hvac/pump-1/valve", Value: "open"},
		{Target: "hvac/pump-1/relay", Value: true},
	}

	want := []string{"hvac/pump-1/relay", "hvac/pump-1/speed", "hvac/pump-1/valve"}
	got := dev.Targets()
	if len(got) != len(want) {
		t.Fatalf("Targets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Targets()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if targets := (&Device{}).Targets(); len(targets) != 0 {
		t.Errorf("empty device targets = %v", targets)
	}
}
