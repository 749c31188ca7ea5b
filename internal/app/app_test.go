package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildObservers_LogOnly(t *testing.T) {
	obs, closers, err := buildObservers(context.Background(), config.EventsConfig{})
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	assert.Empty(t, closers)
}

func TestBuildObservers_Kafka(t *testing.T) {
	obs, closers, err := buildObservers(context.Background(), config.EventsConfig{
		KafkaBrokers: []string{"127.0.0.1:9092"},
		KafkaTopic:   "lifecycle-events",
	})
	require.NoError(t, err)
	assert.Len(t, obs, 2)
	require.Len(t, closers, 1)
	assert.NoError(t, closers[0]())
}

func TestClose_ReverseOrderAndJoinedErrors(t *testing.T) {
	var order []string
	a := &App{closers: []func() error{
		func() error { order = append(order, "db"); return nil },
		func() error { order = append(order, "redis"); return errors.New("redis: closed") },
		func() error { order = append(order, "kafka"); return nil },
	}}

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: closed")
	assert.Equal(t, []string{"kafka", "redis", "db"}, order)
	assert.NoError(t, a.Close(), "second close is a no-op")
}
