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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestAsyncLogger_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "async.log")
	lj := &lumberjack.Logger{Filename: logPath}
	asyncLogger := NewAsyncLogger(lj, 10)

	_, err := asyncLogger.Write([]byte("line one\n"))
	require.NoError(t, err)
	_, err = asyncLogger.Write([]byte("line two\n"))
	require.NoError(t, err)
	require.NoError(t, asyncLogger.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(content))
}

func TestAsyncLogger_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	lj := &lumberjack.Logger{Filename: filepath.Join(dir, "async.log")}
	asyncLogger := NewAsyncLogger(lj, 10)

	require.NoError(t, asyncLogger.Close())
	require.NoError(t, asyncLogger.Close())
}

func TestAsyncLogger_WriteDoesNotRetainCallerBuffer(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "async.log")
	lj := &lumberjack.Logger{Filename: logPath}
	asyncLogger := NewAsyncLogger(lj, 10)

	buf := []byte("original\n")
	_, err := asyncLogger.Write(buf)
	require.NoError(t, err)
	copy(buf, []byte("clobber!\n"))
	require.NoError(t, asyncLogger.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(content))
}
