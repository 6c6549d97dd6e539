// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root of the pagecached configuration tree. It is populated
// by viper from (in increasing priority) defaults, a YAML config file, and
// command-line flags bound in BindFlags.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Memory MemoryConfig `yaml:"memory"`

	Flush FlushConfig `yaml:"flush"`

	Worker WorkerConfig `yaml:"worker"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// DebugConfig controls internal consistency checking and debug
// tracing; LogMutex only raises the log severity to at least DEBUG.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	CheckDirtyLists bool `yaml:"check-dirty-lists"`

	TraceAccessPatterns bool `yaml:"trace-access-patterns"`

	LogMutex bool `yaml:"log-mutex"`
}

// MemoryConfig holds the headroom/working-set/virtual thresholds that drive
// the eviction and trim engine.
type MemoryConfig struct {
	// VMSize selects between the small-VM and large-VM virtual
	// trigger/retreat profiles.
	VMSize VMSize `yaml:"vm-size"`

	HeadroomTriggerPercent Percent `yaml:"headroom-trigger-percent"`
	HeadroomRetreatPercent Percent `yaml:"headroom-retreat-percent"`

	WorkingSetFloorPercent Percent `yaml:"working-set-floor-percent"`
	AbsoluteMinimumPercent Percent `yaml:"absolute-minimum-percent"`

	VirtualTriggerSmallVM ByteSize `yaml:"virtual-trigger-small-vm"`
	VirtualRetreatSmallVM ByteSize `yaml:"virtual-retreat-small-vm"`
	VirtualTriggerLargeVM ByteSize `yaml:"virtual-trigger-large-vm"`
	VirtualRetreatLargeVM ByteSize `yaml:"virtual-retreat-large-vm"`

	LowMemoryCleanMinPercent Percent `yaml:"low-memory-clean-min-percent"`
	LowMemoryCleanCapPages   int     `yaml:"low-memory-clean-cap-pages"`

	MaxDirtyShift int `yaml:"max-dirty-shift"`
}

// FlushConfig controls the flush engine's write-coalescing behavior.
type FlushConfig struct {
	Max ByteSize `yaml:"max"`

	CleanStreakMax int `yaml:"clean-streak-max"`
}

// WorkerConfig controls the background maintenance worker's scheduling.
type WorkerConfig struct {
	CleanDelay time.Duration `yaml:"clean-delay"`
}

// LoggingConfig selects severity, output format, and lumberjack
// rotation settings.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig configures lumberjack.Logger.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// MetricsConfig controls the Prometheus/OpenTelemetry statistics
// exporter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	PrometheusPort int `yaml:"prometheus-port"`
}

// BindFlags registers the command-line surface of Config and binds each
// flag into the global viper under the same key used by the YAML tags
// above.
func BindFlags(flagSet *pflag.FlagSet) error {
	return bindFlagsTo(viper.GetViper(), flagSet)
}

func bindFlagsTo(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "pagecached", "The application name reported in logs and metrics.")
	if err = v.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")
	if err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Raise the log severity to at least DEBUG. Lock hold times are not measured.")
	if err = v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.BoolP("debug_dirty_lists", "", false, "Verify per-object dirty lists after every flush. Very slow.")
	if err = v.BindPFlag("debug.check-dirty-lists", flagSet.Lookup("debug_dirty_lists")); err != nil {
		return err
	}

	flagSet.BoolP("debug_access_patterns", "", false, "Trace per-object lookup patterns in the worker's cycle log.")
	if err = v.BindPFlag("debug.trace-access-patterns", flagSet.Lookup("debug_access_patterns")); err != nil {
		return err
	}

	flagSet.StringP("vm-size", "", string(LargeVM), "Address-space profile for virtual trigger/retreat thresholds: small or large.")
	if err = v.BindPFlag("memory.vm-size", flagSet.Lookup("vm-size")); err != nil {
		return err
	}

	flagSet.Float64P("headroom-trigger-percent", "", float64(DefaultHeadroomTriggerPercent), "Free-RAM percentage below which trim begins.")
	if err = v.BindPFlag("memory.headroom-trigger-percent", flagSet.Lookup("headroom-trigger-percent")); err != nil {
		return err
	}

	flagSet.Float64P("headroom-retreat-percent", "", float64(DefaultHeadroomRetreatPercent), "Free-RAM percentage above which trim stops.")
	if err = v.BindPFlag("memory.headroom-retreat-percent", flagSet.Lookup("headroom-retreat-percent")); err != nil {
		return err
	}

	flagSet.Float64P("working-set-floor-percent", "", float64(DefaultWorkingSetFloorPercent), "Cache-size percentage below which user-page pageout is requested instead of further shrink.")
	if err = v.BindPFlag("memory.working-set-floor-percent", flagSet.Lookup("working-set-floor-percent")); err != nil {
		return err
	}

	flagSet.Float64P("absolute-minimum-percent", "", float64(DefaultAbsoluteMinimumPercent), "Cache-size percentage below which trim never shrinks further.")
	if err = v.BindPFlag("memory.absolute-minimum-percent", flagSet.Lookup("absolute-minimum-percent")); err != nil {
		return err
	}

	flagSet.IntP("max-dirty-shift", "", DefaultMaxDirtyShift, "Right-shift applied to the ideal cache size to derive the maximum permitted dirty page count.")
	if err = v.BindPFlag("memory.max-dirty-shift", flagSet.Lookup("max-dirty-shift")); err != nil {
		return err
	}

	flagSet.StringP("virtual-trigger-small-vm", "", "512MiB", "Free virtual memory below which unmapping begins on the small-VM profile.")
	if err = v.BindPFlag("memory.virtual-trigger-small-vm", flagSet.Lookup("virtual-trigger-small-vm")); err != nil {
		return err
	}

	flagSet.StringP("virtual-retreat-small-vm", "", "896MiB", "Free virtual memory above which unmapping stops on the small-VM profile.")
	if err = v.BindPFlag("memory.virtual-retreat-small-vm", flagSet.Lookup("virtual-retreat-small-vm")); err != nil {
		return err
	}

	flagSet.StringP("virtual-trigger-large-vm", "", "1GiB", "Free virtual memory below which unmapping begins on the large-VM profile.")
	if err = v.BindPFlag("memory.virtual-trigger-large-vm", flagSet.Lookup("virtual-trigger-large-vm")); err != nil {
		return err
	}

	flagSet.StringP("virtual-retreat-large-vm", "", "3GiB", "Free virtual memory above which unmapping stops on the large-VM profile.")
	if err = v.BindPFlag("memory.virtual-retreat-large-vm", flagSet.Lookup("virtual-retreat-large-vm")); err != nil {
		return err
	}

	flagSet.Float64P("low-memory-clean-min-percent", "", float64(DefaultLowMemoryCleanMinPercent), "Percentage of RAM worth of clean pages required before a pressured flush defers to eviction.")
	if err = v.BindPFlag("memory.low-memory-clean-min-percent", flagSet.Lookup("low-memory-clean-min-percent")); err != nil {
		return err
	}

	flagSet.IntP("low-memory-clean-cap-pages", "", DefaultLowMemoryCleanCapPages, "Upper bound, in pages, on the low-memory clean requirement.")
	if err = v.BindPFlag("memory.low-memory-clean-cap-pages", flagSet.Lookup("low-memory-clean-cap-pages")); err != nil {
		return err
	}

	flagSet.IntP("flush-max-bytes", "", int(DefaultFlushMax), "Maximum bytes submitted to the non-cached-write collaborator in one coalesced write.")
	if err = v.BindPFlag("flush.max", flagSet.Lookup("flush-max-bytes")); err != nil {
		return err
	}

	flagSet.IntP("clean-streak-max", "", DefaultCleanStreakMax, "Maximum run of clean pages tolerated inside a dirty run during coalescing.")
	if err = v.BindPFlag("flush.clean-streak-max", flagSet.Lookup("clean-streak-max")); err != nil {
		return err
	}

	flagSet.DurationP("clean-delay", "", DefaultCleanDelay, "Delay the background worker waits after the first page dirtied since the last clean cycle before running the next one.")
	if err = v.BindPFlag("worker.clean-delay", flagSet.Lookup("clean-delay")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Logging output format: text or json.")
	if err = v.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file. Empty means stderr.")
	if err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("metrics-enabled", "", true, "Export statistics via a Prometheus endpoint.")
	if err = v.BindPFlag("metrics.enabled", flagSet.Lookup("metrics-enabled")); err != nil {
		return err
	}

	flagSet.IntP("metrics-port", "", 9090, "Port for the Prometheus metrics endpoint.")
	if err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("metrics-port")); err != nil {
		return err
	}

	return nil
}
