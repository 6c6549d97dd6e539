// Copyright 2024 Google LLC
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
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Percent is the datatype for tunables expressed as a percentage of total
// RAM, such as the headroom trigger and retreat marks.
type Percent float64

func (p *Percent) UnmarshalText(text []byte) error {
	v, err := strconv.ParseFloat(string(text), 64)
	if err != nil {
		return err
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("percent value out of range [0, 100]: %v", v)
	}
	*p = Percent(v)
	return nil
}

func (p Percent) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(p), 'f', -1, 64)), nil
}

// Fraction returns the value as a fraction of 1 rather than of 100.
func (p Percent) Fraction() float64 {
	return float64(p) / 100
}

// ByteSize is the datatype for tunables expressed as a count of bytes,
// accepting suffixes KiB/MiB/GiB on top of a bare integer.
type ByteSize int64

const (
	KiB ByteSize = 1 << 10
	MiB          = KiB << 10
	GiB          = MiB << 10
)

func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	mult := ByteSize(1)
	switch {
	case strings.HasSuffix(s, "GiB"):
		mult, s = GiB, strings.TrimSuffix(s, "GiB")
	case strings.HasSuffix(s, "MiB"):
		mult, s = MiB, strings.TrimSuffix(s, "MiB")
	case strings.HasSuffix(s, "KiB"):
		mult, s = KiB, strings.TrimSuffix(s, "KiB")
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte-size value %q: %w", text, err)
	}
	*b = ByteSize(v) * mult
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}

// LogSeverity represents the logging severity and can accept the following
// values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	// This case should ideally not be reached as LogSeverity configs are validated before parsing.
	return -1
}

// VMSize distinguishes the two virtual-trigger/retreat tunable profiles:
// "small" (32-bit address space) vs "large" (64-bit).
type VMSize string

const (
	SmallVM VMSize = "small"
	LargeVM VMSize = "large"
)

func (v *VMSize) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	if !slices.Contains([]string{string(SmallVM), string(LargeVM)}, s) {
		return fmt.Errorf("invalid vm-size value: %s. It can only accept values in the list: [small, large]", text)
	}
	*v = VMSize(s)
	return nil
}

// ResolvedPath is a file-path that is resolved to an absolute path at
// parse time, so that downstream code never has to reason about the
// process's working directory.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*p = ""
		return nil
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return fmt.Errorf("could not resolve path %q: %w", s, err)
	}
	*p = ResolvedPath(abs)
	return nil
}
