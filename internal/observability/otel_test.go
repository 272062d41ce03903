package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentprep/exam-service/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	cfg := &config.Config{ServiceName: "exam-service"}
	shutdown := InitTracing(context.Background(), cfg, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.NotNil(t, ctx)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(3))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
