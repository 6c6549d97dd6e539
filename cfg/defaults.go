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

// GetDefaultLoggingConfig returns the default configuration that is to be
// used during application startup, before the provided configuration has
// been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultMemoryConfig returns the tunables named for the "large VM"
// profile; BindFlags registers the same values as flag defaults.
func GetDefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		VMSize:                   LargeVM,
		HeadroomTriggerPercent:   DefaultHeadroomTriggerPercent,
		HeadroomRetreatPercent:   DefaultHeadroomRetreatPercent,
		WorkingSetFloorPercent:   DefaultWorkingSetFloorPercent,
		AbsoluteMinimumPercent:   DefaultAbsoluteMinimumPercent,
		VirtualTriggerSmallVM:    DefaultVirtualTriggerSmallVM,
		VirtualRetreatSmallVM:    DefaultVirtualRetreatSmallVM,
		VirtualTriggerLargeVM:    DefaultVirtualTriggerLargeVM,
		VirtualRetreatLargeVM:    DefaultVirtualRetreatLargeVM,
		LowMemoryCleanMinPercent: DefaultLowMemoryCleanMinPercent,
		LowMemoryCleanCapPages:   DefaultLowMemoryCleanCapPages,
		MaxDirtyShift:            DefaultMaxDirtyShift,
	}
}

// GetDefaultFlushConfig returns the flush engine's default coalescing
// tunables.
func GetDefaultFlushConfig() FlushConfig {
	return FlushConfig{
		Max:            DefaultFlushMax,
		CleanStreakMax: DefaultCleanStreakMax,
	}
}

// GetDefaultWorkerConfig returns the background worker's default
// scheduling tunables.
func GetDefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		CleanDelay: DefaultCleanDelay,
	}
}
