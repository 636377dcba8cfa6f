// Package config loads the allocator's tuning knobs from a YAML file. The
// teacher ships no config loader of its own; this follows the rest of the
// example pack's convention of a flat YAML document unmarshaled straight
// into a struct via gopkg.in/yaml.v2, with defaults filled in for anything
// the file omits.
package config

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jrife/tabletcore/tablets/alloc"
)

// Config is the on-disk shape of the allocator's tuning knobs.
type Config struct {
	// TargetTabletSizeBytes is the per-table target tablet size that
	// drives the split/merge decision. Defaults to 5 GiB.
	TargetTabletSizeBytes uint64 `yaml:"target_tablet_size_bytes"`
	// MergeThresholdRatio is the fraction of the target below which
	// tablets are merged. Defaults to 0.25.
	MergeThresholdRatio float64 `yaml:"merge_threshold_ratio"`
	// StreamingRetryBudget bounds how many times the transition driver
	// retries a failed streaming attempt before giving up with
	// streaming_failure. Defaults to 3.
	StreamingRetryBudget int `yaml:"streaming_retry_budget"`
	// DisableRackUniqueness turns off the rack-uniqueness placement rule
	// cluster-wide. Defaults to false (enforced whenever enough racks
	// exist).
	DisableRackUniqueness bool `yaml:"disable_rack_uniqueness"`
	// GroupZeroLeaseTTL bounds how long a coordinator's group0_guard
	// lease is held before it must be renewed, in nanoseconds. Defaults
	// to 10s.
	GroupZeroLeaseTTL time.Duration `yaml:"group_zero_lease_ttl_ns"`
}

// Default returns the allocator's built-in tuning, matching
// alloc.DefaultConfig's numbers.
func Default() Config {
	d := alloc.DefaultConfig()

	return Config{
		TargetTabletSizeBytes: d.TargetTabletSize,
		MergeThresholdRatio:   d.MergeThresholdRatio,
		StreamingRetryBudget:  3,
		GroupZeroLeaseTTL:     10 * time.Second,
	}
}

// Load reads and parses the YAML file at path, filling in Default() for any
// field the file leaves at its zero value.
func Load(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	return Parse(raw)
}

// Parse unmarshals raw YAML into a Config, applying the same zero-value
// defaulting Load does. Exported separately so tests and embedders that
// already have the bytes in hand don't need a real file.
func Parse(raw []byte) (Config, error) {
	c := Default()

	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, err
	}

	if c.TargetTabletSizeBytes == 0 {
		c.TargetTabletSizeBytes = Default().TargetTabletSizeBytes
	}

	if c.MergeThresholdRatio == 0 {
		c.MergeThresholdRatio = Default().MergeThresholdRatio
	}

	if c.StreamingRetryBudget == 0 {
		c.StreamingRetryBudget = Default().StreamingRetryBudget
	}

	if c.GroupZeroLeaseTTL == 0 {
		c.GroupZeroLeaseTTL = Default().GroupZeroLeaseTTL
	}

	return c, nil
}

// AllocatorConfig projects the allocator-relevant fields into alloc.Config.
func (c Config) AllocatorConfig() alloc.Config {
	return alloc.Config{
		TargetTabletSize:      c.TargetTabletSizeBytes,
		MergeThresholdRatio:   c.MergeThresholdRatio,
		DisableRackUniqueness: c.DisableRackUniqueness,
	}
}
