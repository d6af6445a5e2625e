// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/garrulus/garrulus/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, logging.ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestSetup_JSONCarriesServiceIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("garrulus", "1.2.3", "json", "info", &buf)

	logger.Info("connected", "connection", "libera")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "garrulus", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "libera", entry["connection"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("garrulus", "dev", "text", "info", &buf)

	logger.Info("hello")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "service=garrulus")
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("garrulus", "dev", "json", "warn", &buf)

	logger.Info("quiet")
	assert.Empty(t, buf.String(), "info suppressed at warn level")

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestSetup_TraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("garrulus", "dev", "json", "info", &buf)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01},
		SpanID:  trace.SpanID{0x02},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "dispatched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, sc.TraceID().String(), entry["trace_id"])
	assert.Equal(t, sc.SpanID().String(), entry["span_id"])
}

func TestSetup_NoSpanMeansNoTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("garrulus", "dev", "json", "info", &buf)

	logger.InfoContext(context.Background(), "plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}
