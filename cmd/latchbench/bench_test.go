package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"gitlab.com/slon/rwlatch/latch"
	"gitlab.com/slon/rwlatch/latchmon"
)

func TestRunBenchSmoke(t *testing.T) {
	cfg := defaultConfig()
	cfg.Readers = 4
	cfg.Writers = 2
	cfg.Duration = Duration(200 * time.Millisecond)
	cfg.ReadHold = 0
	cfg.WriteHold = 0

	mon := latchmon.New(latch.New(), latchmon.NewMetrics(prometheus.NewRegistry()))
	result, err := runBench(context.Background(), cfg, mon)
	require.NoError(t, err)
	require.Greater(t, result.readAcquisitions, int64(0))
	require.Greater(t, result.writeAcquisitions, int64(0))
}

func TestRunBenchLimitedReaders(t *testing.T) {
	cfg := defaultConfig()
	cfg.Readers = 8
	cfg.Writers = 1
	cfg.Duration = Duration(200 * time.Millisecond)
	cfg.ReadHold = 0
	cfg.WriteHold = 0
	cfg.MaxReaders = 2

	mon := latchmon.New(latch.NewLimited(cfg.MaxReaders), latchmon.NewMetrics(prometheus.NewRegistry()))
	result, err := runBench(context.Background(), cfg, mon)
	require.NoError(t, err)
	require.Greater(t, result.readAcquisitions, int64(0))
}
