/*
 * Copyright 2025 IoTMan Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	log, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, log)

	assert.Equal(t, zerolog.InfoLevel, log.logger.GetLevel())
}

func TestNewDebugOverridesLevel(t *testing.T) {
	log, err := New(&Config{Level: "error", Debug: true})
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, log.logger.GetLevel())
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "noisy"})
	require.Error(t, err)
}

func TestNewComponent(t *testing.T) {
	log, err := NewComponent("registry", &Config{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestSetDebug(t *testing.T) {
	log, err := New(&Config{Level: "info"})
	require.NoError(t, err)

	log.SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, log.logger.GetLevel())

	log.SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, log.logger.GetLevel())
}

func TestTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()

	// Must not panic, must produce no output.
	log.Info().Str("k", "v").Msg("discarded")
	log.Error().Msg("discarded too")
}
