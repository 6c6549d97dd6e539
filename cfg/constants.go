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

import "time"

const (
	// Logging-level constants.

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// Tunables (environment-free constants; overridable via flags/config).

	DefaultHeadroomTriggerPercent Percent = 10
	DefaultHeadroomRetreatPercent Percent = 15

	DefaultWorkingSetFloorPercent     Percent = 33
	DefaultAbsoluteMinimumPercent     Percent = 7

	DefaultVirtualTriggerSmallVM ByteSize = 512 * MiB
	DefaultVirtualRetreatSmallVM ByteSize = 896 * MiB
	DefaultVirtualTriggerLargeVM ByteSize = 1 * GiB
	DefaultVirtualRetreatLargeVM ByteSize = 3 * GiB

	DefaultFlushMax ByteSize = 128 * KiB

	DefaultCleanStreakMax = 4

	DefaultCleanDelay = 5 * time.Second

	DefaultLowMemoryCleanMinPercent Percent = 10
	DefaultLowMemoryCleanCapPages           = 256

	DefaultMaxDirtyShift = 1
)
