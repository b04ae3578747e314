package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-vdev/internal/automation"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/config"
)

// validationResult is the JSON shape of `validate`.
type validationResult struct {
	Valid   bool              `json:"valid"`
	Devices []validatedDevice `json:"devices,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type validatedDevice struct {
	Slug        string   `json:"slug"`
	Enabled     bool     `json:"enabled"`
	Transitions []string `json:"transitions"`
}

// newValidateCommand creates the validate command.
func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <seed-file>",
		Short: "Validate a device seed file without importing it",
		Long: `Parse a YAML device seed file and check every device and chain
against the limits in the configuration (chains.max_steps, chains.max_delay_ms).
Nothing is written to the database. When no configuration file exists the
built-in limits apply.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *rootOptions, path string, cmd *cobra.Command) error {
	limits, err := validationLimits(opts)
	if err != nil {
		return err
	}

	seed, err := automation.LoadSeedFile(path)
	if err != nil {
		return outputValidation(cmd.OutOrStdout(), opts.Format, path, validationResult{Error: err.Error()}, err)
	}

	devices, err := seed.Validate(limits)
	if err != nil {
		return outputValidation(cmd.OutOrStdout(), opts.Format, path, validationResult{Error: err.Error()}, err)
	}

	result := validationResult{Valid: true, Devices: make([]validatedDevice, 0, len(devices))}
	for _, d := range devices {
		result.Devices = append(result.Devices, validatedDevice{
			Slug:        d.Slug,
			Enabled:     d.Enabled,
			Transitions: d.TransitionNames(),
		})
	}
	return outputValidation(cmd.OutOrStdout(), opts.Format, path, result, nil)
}

// validationLimits reads chain limits from the configuration, falling back
// to the built-in defaults when the file is absent.
func validationLimits(opts *rootOptions) (automation.Limits, error) {
	cfg, err := opts.loadConfig()
	if err == nil {
		return chainLimits(cfg), nil
	}
	if errors.Is(err, fs.ErrNotExist) && opts.ConfigPath == defaultConfigPath {
		return chainLimits(config.Defaults()), nil
	}
	return automation.Limits{}, err
}

// outputValidation prints result and returns cause so the exit status
// reflects a failed validation.
func outputValidation(w io.Writer, format, path string, result validationResult, cause error) error {
	if format == "json" {
		if err := writeJSON(w, result); err != nil {
			return err
		}
		if cause != nil {
			return fmt.Errorf("%s: invalid", path)
		}
		return nil
	}

	if cause != nil {
		return fmt.Errorf("%s: %w", path, cause)
	}
	for _, d := range result.Devices {
		state := "enabled"
		if !d.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "  %-24s %-8s %v\n", d.Slug, state, d.Transitions)
	}
	_, err := fmt.Fprintf(w, "%s: %d device(s) valid\n", path, len(result.Devices))
	return err
}
