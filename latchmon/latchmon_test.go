package latchmon

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitlab.com/slon/rwlatch/latch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMonitored(t *testing.T) (*Monitored, *Metrics) {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)
	return NewWithClock(latch.New(), m, clockwork.NewFakeClock()), m
}

func TestCounters(t *testing.T) {
	ml, m := newMonitored(t)

	ml.AcquireRead()
	ml.AcquireRead()
	require.EqualValues(t, 2, testutil.ToFloat64(m.acquisitions.WithLabelValues(modeRead)))
	require.EqualValues(t, 2, testutil.ToFloat64(m.readersHeld))

	ml.ReleaseRead()
	ml.ReleaseRead()
	require.EqualValues(t, 0, testutil.ToFloat64(m.readersHeld))

	ml.AcquireWrite()
	require.EqualValues(t, 1, testutil.ToFloat64(m.acquisitions.WithLabelValues(modeWrite)))
	require.EqualValues(t, 1, testutil.ToFloat64(m.writerHeld))
	ml.ReleaseWrite()
	require.EqualValues(t, 0, testutil.ToFloat64(m.writerHeld))

	// По одному сэмплу гистограммы на каждый режим.
	require.Equal(t, 2, testutil.CollectAndCount(m.waitSeconds))
}

func TestBlockedGauge(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)
	ml := New(latch.New(), m)

	ml.AcquireWrite()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ml.AcquireRead()
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.blocked.WithLabelValues(modeRead)) == 1
	}, time.Second, time.Millisecond)

	ml.ReleaseWrite()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read is still blocked after write release")
	}
	require.EqualValues(t, 0, testutil.ToFloat64(m.blocked.WithLabelValues(modeRead)))
	ml.ReleaseRead()
}

func TestSemanticsPreserved(t *testing.T) {
	ml, _ := newMonitored(t)

	ml.AcquireRead()

	write := make(chan struct{})
	go func() {
		defer close(write)
		ml.AcquireWrite()
	}()
	select {
	case <-write:
		t.Fatal("write acquired while a reader held the latch")
	case <-time.After(50 * time.Millisecond):
	}

	ml.ReleaseRead()
	select {
	case <-write:
	case <-time.After(2 * time.Second):
		t.Fatal("write is still blocked after the reader drained")
	}
	ml.ReleaseWrite()
}
