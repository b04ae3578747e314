package automation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

// SeedFile is the YAML document accepted by ImportYAML:
//
//	devices:
//	  - name: Pump 1
//	    transitions:
//	      on:
//	        - target: hvac/pump-1/relay
//	          value: true
//	        - target: hvac/pump-1/speed
//	          value: 2
//	          wait_before: {type: state, target: hvac/pump-1/relay, expected: true, timeout_ms: 1000}
type SeedFile struct {
	Devices []SeedDevice `yaml:"devices"`
}

// SeedDevice is one device entry of a seed file. Enabled defaults to true.
type SeedDevice struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Slug        string                 `yaml:"slug"`
	Description string                 `yaml:"description"`
	Enabled     *bool                  `yaml:"enabled"`
	Transitions map[string]chain.Chain `yaml:"transitions"`
}

// ImportResult summarises an ImportYAML call.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// LoadSeedFile reads and parses a seed file without touching the registry.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &seed, nil
}

func (s SeedDevice) device() *Device {
	d := &Device{
		ID:          s.ID,
		Name:        s.Name,
		Slug:        s.Slug,
		Enabled:     s.Enabled == nil || *s.Enabled,
		Transitions: s.Transitions,
	}
	if d.Slug == "" {
		d.Slug = GenerateSlug(d.Name)
	}
	if s.Description != "" {
		desc := s.Description
		d.Description = &desc
	}
	return d
}

// Validate checks every entry against limits and returns the devices the
// file describes. Slugs must be unique within the file.
func (f *SeedFile) Validate(limits Limits) ([]*Device, error) {
	devices := make([]*Device, 0, len(f.Devices))
	seen := make(map[string]struct{}, len(f.Devices))
	for i, entry := range f.Devices {
		d := entry.device()
		if err := ValidateDevice(d, limits); err != nil {
			return nil, fmt.Errorf("devices[%d] (%s): %w", i, d.Name, err)
		}
		if _, dup := seen[d.Slug]; dup {
			return nil, fmt.Errorf("devices[%d]: %w: duplicate slug %q", i, ErrDeviceExists, d.Slug)
		}
		seen[d.Slug] = struct{}{}
		devices = append(devices, d)
	}
	return devices, nil
}

// ImportYAML upserts the devices of a seed file, matching existing devices
// by slug. Every entry is validated before anything is written, so a bad
// file leaves the registry untouched.
func (r *Registry) ImportYAML(ctx context.Context, path string) (ImportResult, error) {
	var result ImportResult

	seed, err := LoadSeedFile(path)
	if err != nil {
		return result, err
	}

	devices, err := seed.Validate(r.limits)
	if err != nil {
		return result, err
	}

	for _, d := range devices {
		existing, lookupErr := r.GetBySlug(ctx, d.Slug)
		switch {
		case lookupErr == nil:
			d.ID = existing.ID
			d.CreatedAt = existing.CreatedAt
			if err := r.Update(ctx, d); err != nil {
				return result, fmt.Errorf("updating %s: %w", d.Slug, err)
			}
			result.Updated++
		case errors.Is(lookupErr, ErrDeviceNotFound):
			if err := r.Create(ctx, d); err != nil {
				return result, fmt.Errorf("creating %s: %w", d.Slug, err)
			}
			result.Created++
		default:
			return result, lookupErr
		}
	}

	r.logger.Info("seed file imported",
		"path", path,
		"created", result.Created,
		"updated", result.Updated,
	)
	return result, nil
}
