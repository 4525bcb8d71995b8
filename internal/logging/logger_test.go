package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Caller.Enabled)
	assert.Equal(t, "crewd", cfg.Fields["service"])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name:    "negative caller skip",
			mutate:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"env": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "binary"
	_, err := NewLogger(cfg)
	require.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	_, err = LevelFromString("shouting")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithProjectID(ctx, "proj-1")
	ctx = WithPhase(ctx, "DISCOVERY")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithRequestID(ctx, "req-1")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 4)

	assert.Equal(t, "proj-1", ProjectIDFromContext(ctx))
	assert.Equal(t, "DISCOVERY", PhaseFromContext(ctx))
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestLogCarriesContextFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	ctx := WithProjectID(context.Background(), "proj-1")
	ctx = WithPhase(ctx, "BUILD")
	logger.Info(ctx, "phase attempt failed", zap.Int("attempt", 2))

	entries := observed.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "proj-1", fields["project.id"])
	assert.Equal(t, "BUILD", fields["phase"])
	assert.EqualValues(t, 2, fields["attempt"])
}
