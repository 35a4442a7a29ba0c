// Package config holds the tunables the compression core is configured
// with. Parsing these out of a file or flag set is the embedding host's
// job (spec §1 "out of scope"); this package only validates the values
// once they're in hand.
package config

import (
	"fmt"
	"time"
)

// TrainMode selects the dictionary-training strategy used by the trainer.
type TrainMode int

const (
	// TrainFast uses the single-shot cover trainer.
	TrainFast TrainMode = iota
	// TrainOptimize searches a small parameter grid for a better dictionary.
	TrainOptimize
)

func (m TrainMode) String() string {
	switch m {
	case TrainFast:
		return "FAST"
	case TrainOptimize:
		return "OPTIMIZE"
	default:
		return "UNKNOWN"
	}
}

// ParseTrainMode parses the configuration key's enumerated value.
func ParseTrainMode(s string) (TrainMode, error) {
	switch s {
	case "FAST", "":
		return TrainFast, nil
	case "OPTIMIZE":
		return TrainOptimize, nil
	default:
		return TrainFast, fmt.Errorf("config: unknown train_mode %q", s)
	}
}

// Default dictionary-size bounds from spec §4.8 step 8.
const (
	DefaultMaxDictSize = 112 * 1024
	HardCapDictSize    = 1024 * 1024
	// MaxCompSizeSafetyCap is the spec §6 safety ceiling on max_comp_size.
	MaxCompSizeSafetyCap = 256 * 1024
)

// Config enumerates every key from spec.md §6.
type Config struct {
	EnableComp   bool
	EnableDict   bool
	DictDir      string
	DictSize     int // target trained dictionary size in bytes
	ZstdLevel    int // 1..22; 0 => default (3)
	MinCompSize  int
	MaxCompSize  int // <= MaxCompSizeSafetyCap

	EnableTraining        bool
	RetrainingIntervalSec int
	MinTrainingSize       int64
	EwmaAlpha             float64
	RetrainDrop           float64
	TrainMode             TrainMode

	GCCoolPeriodSec       int
	GCQuarantinePeriodSec int
	DictRetainMax         int // 1..256

	EnableSampling        bool
	SampleP               float64 // (0,1]
	SampleWindowDurationS int

	SpoolDir      string
	SpoolMaxBytes int64

	AsyncCmdEnabled     bool
	AsyncThreadPoolSize int
	AsyncQueueSize      int

	EnableStringFilter bool
	EnableHashFilter   bool

	TrainingWindowDurationS int
}

// Default returns the engine's baseline configuration.
func Default(dictDir string) Config {
	return Config{
		EnableComp:  true,
		EnableDict:  true,
		DictDir:     dictDir,
		DictSize:    DefaultMaxDictSize,
		ZstdLevel:   3,
		MinCompSize: 64,
		MaxCompSize: MaxCompSizeSafetyCap,

		EnableTraining:        true,
		RetrainingIntervalSec: 3600,
		MinTrainingSize:       10 << 20,
		EwmaAlpha:             0.2,
		RetrainDrop:           0.15,
		TrainMode:             TrainFast,

		GCCoolPeriodSec:       5,
		GCQuarantinePeriodSec: 60,
		DictRetainMax:         3,

		EnableSampling:        true,
		SampleP:               0.01,
		SampleWindowDurationS: 300,

		SpoolMaxBytes: 8 << 20,

		AsyncThreadPoolSize: 8,
		AsyncQueueSize:      1024,

		TrainingWindowDurationS: 300,
	}
}

// Validate checks the ranges spec.md §6 calls out explicitly.
func (c Config) Validate() error {
	if c.ZstdLevel < 0 || c.ZstdLevel > 22 {
		return fmt.Errorf("config: zstd_level %d out of range 0..22", c.ZstdLevel)
	}
	if c.MaxCompSize > MaxCompSizeSafetyCap {
		return fmt.Errorf("config: max_comp_size %d exceeds safety cap %d", c.MaxCompSize, MaxCompSizeSafetyCap)
	}
	if c.MinCompSize < 0 || (c.MaxCompSize > 0 && c.MinCompSize > c.MaxCompSize) {
		return fmt.Errorf("config: min_comp_size %d invalid against max_comp_size %d", c.MinCompSize, c.MaxCompSize)
	}
	if c.EwmaAlpha < 0 || c.EwmaAlpha > 1 {
		return fmt.Errorf("config: ewma_alpha %v out of range [0,1]", c.EwmaAlpha)
	}
	if c.RetrainDrop < 0 || c.RetrainDrop > 1 {
		return fmt.Errorf("config: retrain_drop %v out of range [0,1]", c.RetrainDrop)
	}
	if c.DictRetainMax < 1 || c.DictRetainMax > 256 {
		return fmt.Errorf("config: dict_retain_max %d out of range 1..256", c.DictRetainMax)
	}
	if c.EnableSampling && (c.SampleP <= 0 || c.SampleP > 1) {
		return fmt.Errorf("config: sample_p %v out of range (0,1]", c.SampleP)
	}
	if c.DictDir == "" {
		return fmt.Errorf("config: dict_dir must not be empty")
	}
	return nil
}

// RetrainingInterval returns the configured interval as a duration.
func (c Config) RetrainingInterval() time.Duration {
	return time.Duration(c.RetrainingIntervalSec) * time.Second
}

// GCCoolPeriod returns the configured GC cool-down as a duration.
func (c Config) GCCoolPeriod() time.Duration {
	return time.Duration(c.GCCoolPeriodSec) * time.Second
}

// QuarantinePeriod returns the configured id-quarantine window.
func (c Config) QuarantinePeriod() time.Duration {
	return time.Duration(c.GCQuarantinePeriodSec) * time.Second
}

// SampleWindow returns the reservoir's session duration (0 => unbounded).
func (c Config) SampleWindow() time.Duration {
	return time.Duration(c.SampleWindowDurationS) * time.Second
}

// ResolvedZstdLevel returns the effective compression level, applying
// the spec's "0 => default 3" rule.
func (c Config) ResolvedZstdLevel() int {
	if c.ZstdLevel == 0 {
		return 3
	}
	return c.ZstdLevel
}
