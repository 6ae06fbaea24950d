package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.AddCheck("registry", func(ctx context.Context) error { return nil })
	hc.AddCheck("backend", func(ctx context.Context) error { return nil })

	status := hc.CheckAll(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "ok", status.Checks["registry"])
	assert.Equal(t, "ok", status.Checks["backend"])
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthChecker_FailingCheckIsReported(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.AddCheck("registry", func(ctx context.Context) error { return nil })
	hc.AddCheck("backend", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	status := hc.CheckAll(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "ok", status.Checks["registry"])
	assert.Equal(t, "connection refused", status.Checks["backend"])
}

func TestHealthChecker_ChecksRunUnderTimeout(t *testing.T) {
	hc := NewHealthChecker(10 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.CheckAll(context.Background())
	assert.False(t, status.Healthy)
}
