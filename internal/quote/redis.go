package quote

import (
	"context"
	"log/slog"
	"time"
)

// PriceReader reads a price stored under a key.
type PriceReader interface {
	LastPrice(ctx context.Context, key string) (float64, bool, error)
}

// RedisSource polls a Redis key that some upstream feed keeps current.
type RedisSource struct {
	Latest

	reader   PriceReader
	key      string
	interval time.Duration

	// OnError is called for every failed read.
	OnError func(err error)
}

// NewRedisSource polls key every interval (minimum 50ms).
func NewRedisSource(reader PriceReader, key string, interval time.Duration) *RedisSource {
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	return &RedisSource{reader: reader, key: key, interval: interval}
}

// Run polls until ctx is cancelled.
func (s *RedisSource) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *RedisSource) poll(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	price, ok, err := s.reader.LastPrice(readCtx, s.key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("quote read failed", "key", s.key, "error", err)
		if s.OnError != nil {
			s.OnError(err)
		}
		return
	}
	if ok {
		s.Set(price, time.Now())
	}
}
