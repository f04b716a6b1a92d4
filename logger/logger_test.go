package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
		wantLevel  zapcore.Level
	}{
		{name: "console default", jsonOutput: false, verbosity: 0, wantLevel: zapcore.WarnLevel},
		{name: "console -v", jsonOutput: false, verbosity: 1, wantLevel: zapcore.InfoLevel},
		{name: "json -vv", jsonOutput: true, verbosity: 2, wantLevel: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.True(t, Logger.Desugar().Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, Logger.Desugar().Core().Enabled(tt.wantLevel-1))
			}
		})
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		want zapcore.Level
	}{
		{env: "", want: zapcore.WarnLevel},
		{env: "DEBUG", want: zapcore.DebugLevel},
		{env: "info", want: zapcore.InfoLevel},
		{env: "error", want: zapcore.ErrorLevel},
		{env: "chatty", want: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run("LOG_LEVEL="+tt.env, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			assert.Equal(t, tt.want, levelFromEnv(zapcore.WarnLevel))
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityUser))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Trace (-vvv)", LevelName(VerbosityTrace))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithComponent(WithJobID(context.Background(), "job-7"), "report")
	FromContext(ctx, base).Infow("section finished", FieldSection, "Scope")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-7", fields[FieldJobID])
	assert.Equal(t, "report", fields[FieldComponent])
	assert.Equal(t, "Scope", fields[FieldSection])
}

func TestFromContextWithoutFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	FromContext(context.Background(), base).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestHelpersUseGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	Debugw("debug", FieldCount, 1)
	Infow("info")
	Warnw("warn")
	Errorw("error", FieldError, "boom")
	Cleanup()

	assert.Equal(t, 4, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("error").Len())
}
