// Package redislatch implements a reader/writer latch shared between
// processes through Redis. It mirrors the in-process latch's writer
// preference: a writer first claims an intent key, which stops new
// readers, then waits for the existing reader keys to drain.
//
// Holds are backed by TTL keys refreshed from a background goroutine, so
// a crashed process releases its hold automatically once the TTL expires.
package redislatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// TTL для robustness - автоматическое освобождение при смерти процесса.
	ttlSeconds      = 1
	pollInterval    = 10 * time.Millisecond
	refreshInterval = 300 * time.Millisecond
)

// countReaders - Lua-фрагмент: считаем живые reader-ключи через SCAN,
// истекшие (TTL <= 0) не учитываем.
const countReaders = `
local function count_readers(prefix)
	local count = 0
	local cursor = "0"
	repeat
		local result = redis.call('SCAN', cursor, 'MATCH', prefix .. ":readers:*", 'COUNT', 100)
		cursor = result[1]
		local keys = result[2]
		for i = 1, #keys do
			if redis.call('EXISTS', keys[i]) == 1 and redis.call('TTL', keys[i]) > 0 then
				count = count + 1
			end
		end
	until cursor == "0"
	return count
end
`

// acquireWriteScript: KEYS[1] = база, KEYS[2] = writer-ключ,
// ARGV[1] = id держателя, ARGV[2] = TTL.
// 0 - захвачено, 1 - занято другим писателем, 2 - intent наш, ждём drain.
var acquireWriteScript = redis.NewScript(countReaders + `
	local owner = redis.call('GET', KEYS[2])
	if owner and owner ~= ARGV[1] then
		return 1
	end
	-- Ставим (или продлеваем) intent: с этого момента новые читатели не проходят.
	redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[2])
	if count_readers(KEYS[1]) == 0 then
		return 0
	end
	return 2
`)

// acquireReadScript: KEYS[1] = база, KEYS[2] = writer-ключ,
// KEYS[3] = reader-ключ процесса, ARGV[1] = limit, ARGV[2] = TTL.
// 0 - захвачено, 1 - занято (писатель или достигнут limit).
var acquireReadScript = redis.NewScript(countReaders + `
	if redis.call('EXISTS', KEYS[2]) == 1 then
		return 1
	end
	if redis.call('EXISTS', KEYS[3]) == 1 then
		redis.call('EXPIRE', KEYS[3], ARGV[2])
		return 0
	end
	if count_readers(KEYS[1]) < tonumber(ARGV[1]) then
		if redis.call('SET', KEYS[3], '1', 'EX', ARGV[2], 'NX') then
			return 0
		end
	end
	return 1
`)

// releaseWriteScript удаляет writer-ключ, только если он всё ещё наш.
var releaseWriteScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// refreshWriteScript продлевает TTL writer-ключа, только если он наш.
var refreshWriteScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Latch is a cross-process reader/writer latch over Redis.
type Latch struct {
	rdb redis.UniversalClient
}

// New creates a Latch backed by rdb. Latches sharing a key on the same
// Redis arbitrate with each other regardless of process.
func New(rdb redis.UniversalClient) *Latch {
	return &Latch{rdb: rdb}
}

func newHolderID() (string, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return "", fmt.Errorf("generate holder id: %w", err)
	}
	return hex.EncodeToString(id), nil
}

// AcquireWrite acquires the latch named key exclusively. It blocks until
// every other writer has released and all reader keys have drained, or
// until ctx is canceled. While it is draining, new readers are already
// turned away. The returned release must be called exactly once;
// cancellation of ctx releases automatically.
func (l *Latch) AcquireWrite(ctx context.Context, key string) (release func() error, err error) {
	id, err := newHolderID()
	if err != nil {
		return nil, err
	}
	writerKey := key + ":writer"

	claimed := false
	undo := func() {
		// Снимаем intent, если успели его поставить.
		_ = releaseWriteScript.Run(context.Background(), l.rdb, []string{writerKey}, id).Err()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			if claimed {
				undo()
			}
			return nil, ctx.Err()
		}

		result, err := acquireWriteScript.Run(ctx, l.rdb, []string{key, writerKey}, id, ttlSeconds).Int()
		if err != nil {
			if claimed {
				undo()
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire write: %w", err)
		}

		if result == 0 {
			break
		}
		claimed = result == 2

		select {
		case <-ctx.Done():
			if claimed {
				undo()
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return l.holdKey(ctx, writerKey, func(refreshCtx context.Context) {
		_ = refreshWriteScript.Run(refreshCtx, l.rdb, []string{writerKey}, id, ttlSeconds).Err()
	}, func() {
		_ = releaseWriteScript.Run(context.Background(), l.rdb, []string{writerKey}, id).Err()
	}), nil
}

// AcquireRead acquires the latch named key in shared mode. No more than
// limit readers hold the latch at the same time; past the limit, and
// while any writer holds or is draining, AcquireRead blocks. The returned
// release must be called exactly once; cancellation of ctx releases
// automatically.
func (l *Latch) AcquireRead(ctx context.Context, key string, limit int) (release func() error, err error) {
	id, err := newHolderID()
	if err != nil {
		return nil, err
	}
	writerKey := key + ":writer"
	readerKey := key + ":readers:" + id

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := acquireReadScript.Run(
			ctx, l.rdb,
			[]string{key, writerKey, readerKey},
			limit, ttlSeconds,
		).Int()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire read: %w", err)
		}

		if result == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return l.holdKey(ctx, readerKey, func(refreshCtx context.Context) {
		_ = l.rdb.Expire(refreshCtx, readerKey, time.Second*ttlSeconds).Err()
	}, func() {
		_ = l.rdb.Del(context.Background(), readerKey).Err()
	}), nil
}

// holdKey запускает фоновое продление TTL и возвращает идемпотентный
// release; отмена ctx освобождает захват автоматически.
func (l *Latch) holdKey(ctx context.Context, key string, refresh func(context.Context), drop func()) (release func() error) {
	var releaseOnce sync.Once
	released := make(chan struct{})
	refreshStop := make(chan struct{})

	doRelease := func() {
		releaseOnce.Do(func() {
			close(released)
			close(refreshStop)
			drop()
		})
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshStop:
				return
			case <-ticker.C:
				refresh(context.Background())
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			doRelease()
		case <-released:
		}
	}()

	return func() error {
		doRelease()
		return nil
	}
}
