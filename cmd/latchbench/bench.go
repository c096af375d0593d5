package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/rwlatch/latchmon"
)

type benchResult struct {
	readAcquisitions  int64
	writeAcquisitions int64
	elapsed           time.Duration
}

// runBench гоняет читателей и писателей по одному latch до истечения
// cfg.Duration, попутно проверяя взаимное исключение. Нарушение
// инварианта - ошибка, бенчмарк завершается ненулевым кодом.
func runBench(ctx context.Context, cfg Config, mon *latchmon.Monitored) (benchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Duration))
	defer cancel()

	var readHolders, writeHolders int32
	var reads, writes int64

	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Readers; i++ {
		eg.Go(func() error {
			for ctx.Err() == nil {
				mon.AcquireRead()
				atomic.AddInt32(&readHolders, 1)
				if atomic.LoadInt32(&writeHolders) != 0 {
					atomic.AddInt32(&readHolders, -1)
					mon.ReleaseRead()
					return fmt.Errorf("reader observed an active writer")
				}
				hold(time.Duration(cfg.ReadHold))
				atomic.AddInt32(&readHolders, -1)
				mon.ReleaseRead()
				atomic.AddInt64(&reads, 1)
			}
			return nil
		})
	}

	for i := 0; i < cfg.Writers; i++ {
		eg.Go(func() error {
			for ctx.Err() == nil {
				mon.AcquireWrite()
				w := atomic.AddInt32(&writeHolders, 1)
				r := atomic.LoadInt32(&readHolders)
				if w != 1 || r != 0 {
					atomic.AddInt32(&writeHolders, -1)
					mon.ReleaseWrite()
					return fmt.Errorf("writer is not exclusive: writers=%d readers=%d", w, r)
				}
				hold(time.Duration(cfg.WriteHold))
				atomic.AddInt32(&writeHolders, -1)
				mon.ReleaseWrite()
				atomic.AddInt64(&writes, 1)
			}
			return nil
		})
	}

	err := eg.Wait()
	return benchResult{
		readAcquisitions:  atomic.LoadInt64(&reads),
		writeAcquisitions: atomic.LoadInt64(&writes),
		elapsed:           time.Since(start),
	}, err
}

func hold(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
