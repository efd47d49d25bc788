package cachestore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const evictChannel = "tinypaste:evict"

// Peers fans deletions out to every instance that shares the backend.
type Peers interface {
	// Publish announces that id was deleted.
	Publish(ctx context.Context, id string) error
	// Subscribe calls evict for every announced id, and reset whenever
	// announcements may have been missed. stop ends the subscription.
	Subscribe(evict func(id string), reset func()) (stop func() error)
}

// RedisPeers announces deletions on a Redis pub/sub channel.
func RedisPeers(client *redis.Client) Peers {
	return &redisPeers{client: client, retry: time.Second}
}

type redisPeers struct {
	client *redis.Client
	retry  time.Duration
}

func (p *redisPeers) Publish(ctx context.Context, id string) error {
	return errors.Wrap(p.client.Publish(ctx, evictChannel, id).Err(), "publish eviction")
}

func (p *redisPeers) Subscribe(evict func(id string), reset func()) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	ps := p.client.Subscribe(ctx, evictChannel)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			msg, err := ps.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Announcements sent while disconnected are lost.
				reset()
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.retry):
				}
				continue
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				// Also delivered on every resubscribe after a reconnect.
				reset()
			case *redis.Message:
				evict(m.Payload)
			}
		}
	}()

	return func() error {
		cancel()
		err := ps.Close()
		<-done
		return errors.Wrap(err, "close eviction subscription")
	}
}
