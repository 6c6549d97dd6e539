// Copyright 2025 Google LLC
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

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const timestampFormat = "02/01/2006 03:04:05.000000"

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// baseHandler carries what the text and JSON handlers share: the
// destination writer behind a mutex, the dynamic level, and the
// message prefix.
type baseHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *baseHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

type textHandler struct{ baseHandler }

func (h *textHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(string) slog.Handler      { return h }

func newTextHandler(writer io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &textHandler{baseHandler{mu: &sync.Mutex{}, writer: writer, level: level, prefix: prefix}}
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("time=%q severity=%s message=%q\n",
		r.Time.Round(time.Microsecond).Format(timestampFormat),
		severityName(r.Level),
		h.prefix+r.Message)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, line)
	return err
}

type jsonHandler struct{ baseHandler }

func (h *jsonHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(string) slog.Handler      { return h }

func newJSONHandler(writer io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &jsonHandler{baseHandler{mu: &sync.Mutex{}, writer: writer, level: level, prefix: prefix}}
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int64 `json:"nanos"`
}

type jsonRecord struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	buf, err := json.Marshal(jsonRecord{
		Timestamp: jsonTimestamp{
			Seconds: r.Time.Unix(),
			Nanos:   int64(r.Time.Nanosecond()),
		},
		Severity: severityName(r.Level),
		Message:  h.prefix + r.Message,
	})
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(buf)
	return err
}
