package config

import (
	"fmt"
	"maps"
	"os"
	"reflect"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Audio is the [audio] table: which transport to run and how.
type Audio struct {
	Backend    string `toml:"backend"`
	Driver     string `toml:"driver"`
	BlockSize  int    `toml:"block_size"`
	Channels   int    `toml:"channels"`
	SampleRate int    `toml:"sample_rate"`
	Prefill    int    `toml:"prefill"`
	Priority   int    `toml:"priority"`
	InputBase  int    `toml:"input_base"`
	OutputBase int    `toml:"output_base"`
	// ReportInterval is how often dropout counts are published. It is
	// written as a duration string and decoded by LoadAudio.
	ReportInterval time.Duration     `toml:"-"`
	Extra          map[string]string `toml:"extra"`
}

// Equal reports whether two sections describe the same transport.
func (a Audio) Equal(b Audio) bool {
	if !maps.Equal(a.Extra, b.Extra) {
		return false
	}
	a.Extra, b.Extra = nil, nil
	return reflect.DeepEqual(a, b)
}

// Merge returns a with every zero field taken from defaults.
func (a Audio) Merge(defaults Audio) Audio {
	if a.Backend == "" {
		a.Backend = defaults.Backend
	}
	if a.Driver == "" {
		a.Driver = defaults.Driver
	}
	if a.BlockSize == 0 {
		a.BlockSize = defaults.BlockSize
	}
	if a.Channels == 0 {
		a.Channels = defaults.Channels
	}
	if a.SampleRate == 0 {
		a.SampleRate = defaults.SampleRate
	}
	if a.Prefill == 0 {
		a.Prefill = defaults.Prefill
	}
	if a.Priority == 0 {
		a.Priority = defaults.Priority
	}
	if a.ReportInterval == 0 {
		a.ReportInterval = defaults.ReportInterval
	}
	if a.Extra == nil {
		a.Extra = defaults.Extra
	}
	return a
}

// LoadAudio reads the [audio] table of a TOML file.
func LoadAudio(path string) (Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Audio{}, err
	}
	var f struct {
		Audio Audio `toml:"audio"`
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return Audio{}, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	var interval struct {
		Audio struct {
			ReportInterval string `toml:"report_interval"`
		} `toml:"audio"`
	}
	if err := toml.Unmarshal(data, &interval); err != nil {
		return Audio{}, fmt.Errorf("audio.report_interval: %w", err)
	}
	a := f.Audio
	if s := interval.Audio.ReportInterval; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Audio{}, fmt.Errorf("audio.report_interval: %w", err)
		}
		a.ReportInterval = d
	}
	return a, nil
}
