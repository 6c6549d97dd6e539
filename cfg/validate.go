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

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidMemoryConfig(m *MemoryConfig) error {
	if m.HeadroomTriggerPercent <= 0 || m.HeadroomTriggerPercent > 100 {
		return fmt.Errorf("headroom-trigger-percent must be in (0, 100]")
	}
	if m.HeadroomRetreatPercent <= m.HeadroomTriggerPercent {
		return fmt.Errorf("headroom-retreat-percent (%v) must be greater than headroom-trigger-percent (%v)", m.HeadroomRetreatPercent, m.HeadroomTriggerPercent)
	}
	if m.AbsoluteMinimumPercent <= 0 || m.AbsoluteMinimumPercent > 100 {
		return fmt.Errorf("absolute-minimum-percent must be in (0, 100]")
	}
	if m.WorkingSetFloorPercent < m.AbsoluteMinimumPercent {
		return fmt.Errorf("working-set-floor-percent (%v) must not be less than absolute-minimum-percent (%v)", m.WorkingSetFloorPercent, m.AbsoluteMinimumPercent)
	}
	if m.VirtualTriggerSmallVM <= 0 || m.VirtualRetreatSmallVM <= m.VirtualTriggerSmallVM {
		return fmt.Errorf("virtual-retreat-small-vm must be greater than virtual-trigger-small-vm")
	}
	if m.VirtualTriggerLargeVM <= 0 || m.VirtualRetreatLargeVM <= m.VirtualTriggerLargeVM {
		return fmt.Errorf("virtual-retreat-large-vm must be greater than virtual-trigger-large-vm")
	}
	if m.MaxDirtyShift < 0 {
		return fmt.Errorf("max-dirty-shift can't be negative")
	}
	return nil
}

func isValidFlushConfig(f *FlushConfig) error {
	if f.Max <= 0 {
		return fmt.Errorf("flush.max must be positive")
	}
	if f.CleanStreakMax < 0 {
		return fmt.Errorf("flush.clean-streak-max can't be negative")
	}
	return nil
}

func isValidWorkerConfig(w *WorkerConfig) error {
	if w.CleanDelay <= 0 {
		return fmt.Errorf("worker.clean-delay must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidMemoryConfig(&config.Memory); err != nil {
		return fmt.Errorf("error parsing memory config: %w", err)
	}
	if err := isValidFlushConfig(&config.Flush); err != nil {
		return fmt.Errorf("error parsing flush config: %w", err)
	}
	if err := isValidWorkerConfig(&config.Worker); err != nil {
		return fmt.Errorf("error parsing worker config: %w", err)
	}
	return nil
}
