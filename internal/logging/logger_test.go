package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "loud", Format: "json"}, nil)
	assert.Error(t, err)

	_, err = NewLogger(&Config{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestContextFields(t *testing.T) {
	rc := runctx.NewRoot(runctx.ModeSystematic, nil).Child("repo_prep")
	ctx := runctx.Into(context.Background(), rc)

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, rc.TraceID(), fields[0].String)
	assert.Equal(t, "span_id", fields[1].Key)
	assert.Equal(t, "root.repo_prep", fields[1].String)
	assert.Equal(t, "mode", fields[2].Key)
	assert.Equal(t, "systematic", fields[2].String)
}

func TestContextFields_NoRunContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestLogger_InjectsCorrelation(t *testing.T) {
	logger, logs := NewTestLogger()
	rc := runctx.NewRoot(runctx.ModeSurgical, nil)
	ctx := runctx.Into(context.Background(), rc)

	logger.Info(ctx, "phase started", zap.String("phase", "commit"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, rc.TraceID(), fields["trace_id"])
	assert.Equal(t, "root", fields["span_id"])
	assert.Equal(t, "commit", fields["phase"])
}

func TestLogger_FromContextFallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	logger, logs := NewTestLogger()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Zero(t, logs.Len())
}
