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
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

func hookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch t {
		case reflect.TypeOf(ByteSize(0)):
			var b ByteSize
			if err := b.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return b, nil
		case reflect.TypeOf(Percent(0)):
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			return Percent(v), nil
		case reflect.TypeOf(LogSeverity("")):
			level := strings.ToUpper(s)
			if !slices.Contains([]string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}, level) {
				return nil, fmt.Errorf("invalid logseverity: %s", s)
			}
			return level, nil
		case reflect.TypeOf(VMSize("")):
			size := strings.ToLower(s)
			if !slices.Contains([]string{"small", "large"}, size) {
				return nil, fmt.Errorf("invalid vm-size: %s", s)
			}
			return size, nil
		case reflect.TypeOf(ResolvedPath("")):
			var p ResolvedPath
			if err := p.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return data, nil
		}
	}
}

// DecodeHook composes the custom-type hooks above with mapstructure's
// built-in TextUnmarshaler, duration, and comma-separated-slice hooks.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(), // default hook
		mapstructure.StringToSliceHookFunc(","),     // default hook
	)
}
