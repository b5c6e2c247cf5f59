package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Background mirrors the SDK's background enum.
type Background int

const (
	BackgroundDefault Background = iota
	BackgroundTransparent
)

// Settings is the subset of SDK embed settings the host page pre-sets.
// Nil pointers are left to the SDK's defaults.
type Settings struct {
	FilterPaneEnabled     *bool       `json:"filterPaneEnabled,omitempty" yaml:"filterPaneEnabled"`
	NavContentPaneEnabled *bool       `json:"navContentPaneEnabled,omitempty" yaml:"navContentPaneEnabled"`
	Background            *Background `json:"background,omitempty" yaml:"background"`
}

type settingsFile struct {
	Settings *Settings `yaml:"settings"`
}

// LoadSettings reads SDK settings from a YAML file of the form:
//
//	settings:
//	  filterPaneEnabled: false
//	  navContentPaneEnabled: true
//	  background: 1
//
// An empty path means no pre-set settings.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	var f settingsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return f.Settings, nil
}
