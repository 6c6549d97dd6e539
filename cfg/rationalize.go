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

// Rationalize updates config fields based on the values of other
// fields, resolving derived settings before the config is handed to
// the rest of the process.
func Rationalize(c *Config) error {
	// The mutex-logging switch raises the severity to at least DEBUG;
	// it has no other effect.
	if c.Debug.LogMutex && severityRanking[c.Logging.Severity] > severityRanking[DebugLogSeverity] {
		c.Logging.Severity = DebugLogSeverity
	}

	// A retreat mark at or below the trigger mark would make trim
	// oscillate forever; nudge it one point above instead of failing
	// startup outright for a config file not meant to be exact.
	if c.Memory.HeadroomRetreatPercent <= c.Memory.HeadroomTriggerPercent {
		c.Memory.HeadroomRetreatPercent = c.Memory.HeadroomTriggerPercent + 1
	}

	return nil
}
