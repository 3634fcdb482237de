package config

import (
	"fmt"
	"sort"
)

// Highest primary address on a GPIB bus
const MaxGPIBAddress = 30

// InstrumentConfig represents one electronic load on the shared GPIB bus
type InstrumentConfig struct {
	ID           string `yaml:"-"`                       // Map key, used in topics
	Name         string `yaml:"name"`                    // Display name (e.g., "Load 1")
	Address      int    `yaml:"address"`                 // GPIB primary address (0-30)
	Model        string `yaml:"model,omitempty"`         // Informational, defaults to "6060B"
	PollInterval int    `yaml:"poll_interval,omitempty"` // Milliseconds, 0 disables polling
	Enabled      *bool  `yaml:"enabled,omitempty"`       // Defaults to true
	ResetOnStart bool   `yaml:"reset_on_start"`          // Send *CLS once at startup
}

// Validate validates the instrument configuration
func (i *InstrumentConfig) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("instrument name is required")
	}
	if i.Address < 0 || i.Address > MaxGPIBAddress {
		return fmt.Errorf("instrument '%s' has GPIB address %d (must be 0-%d)", i.Name, i.Address, MaxGPIBAddress)
	}
	if i.PollInterval < 0 {
		return fmt.Errorf("instrument '%s' has negative poll_interval", i.Name)
	}
	return nil
}

// IsEnabled returns whether the instrument is enabled (default true)
func (i *InstrumentConfig) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

// GetModel returns the model or the default
func (i *InstrumentConfig) GetModel() string {
	if i.Model == "" {
		return "6060B"
	}
	return i.Model
}

// ValidateInstruments validates every instrument and checks that addresses are unique
func ValidateInstruments(instruments map[string]InstrumentConfig) error {
	if len(instruments) == 0 {
		return fmt.Errorf("no instruments are defined")
	}

	owners := make(map[int]string)
	for _, key := range SortedInstrumentKeys(instruments) {
		inst := instruments[key]
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("instrument '%s': %w", key, err)
		}
		if owner, taken := owners[inst.Address]; taken {
			return fmt.Errorf("instruments '%s' and '%s' share GPIB address %d", owner, key, inst.Address)
		}
		owners[inst.Address] = key
	}
	return nil
}

// SortedInstrumentKeys returns instrument keys in a stable order
func SortedInstrumentKeys(instruments map[string]InstrumentConfig) []string {
	keys := make([]string, 0, len(instruments))
	for key := range instruments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
