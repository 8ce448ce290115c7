package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/votefore/livepoll/internal/errors"
)

const (
	defaultTxRetries = 32
	defaultBuffer    = 64
)

// absent is published on delete so subscribers observe the removal as a
// tombstone. Stored values are always JSON objects, never bare null.
const absent = "null"

type Config struct {
	Client redis.UniversalClient
	Prefix string

	// TxRetries bounds the optimistic retry loop in Transact.
	TxRetries int

	// Buffer is the per-subscription snapshot channel capacity.
	Buffer int
}

// Redis implements Store on a Redis client. Each path maps to one key
// holding the JSON value and one pub/sub channel carrying committed
// values, so commit order on the key is delivery order on the channel.
type Redis struct {
	rdb       redis.UniversalClient
	prefix    string
	txRetries int
	buffer    int
}

func NewRedis(c Config) *Redis {
	if c.TxRetries <= 0 {
		c.TxRetries = defaultTxRetries
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}

	return &Redis{
		rdb:       c.Client,
		prefix:    c.Prefix,
		txRetries: c.TxRetries,
		buffer:    c.Buffer,
	}
}

func (r *Redis) key(path string) string {
	return fmt.Sprintf("%s:%s", r.prefix, path)
}

func (r *Redis) channel(path string) string {
	return fmt.Sprintf("%s:changes:%s", r.prefix, path)
}

func (r *Redis) Read(ctx context.Context, path string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key(path)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("store: path %q not found", path))
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %q: %w", path, err)
	}
	return b, nil
}

func (r *Redis) Write(ctx context.Context, path string, value []byte) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(path), value, 0)
		pipe.Publish(ctx, r.channel(path), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: write %q: %w", path, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(path))
		pipe.Publish(ctx, r.channel(path), absent)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", path, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	ps := r.rdb.Subscribe(ctx, r.channel(path))

	// Confirm the subscription is live before reading the current value,
	// so no commit can land between the read and the first channel message.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("store: subscribe %q: %w", path, err)
	}

	first := Snapshot{Path: path}
	b, err := r.Read(ctx, path)
	switch {
	case err == nil:
		first.Value = b
		first.Exists = true
	case errors.Convert(err).Code == errors.CodeNotFound:
		// deliver the absence
	default:
		_ = ps.Close()
		return nil, err
	}

	snaps := make(chan Snapshot, r.buffer)
	var once sync.Once
	sub := &Subscription{
		snaps: snaps,
		stop:  func() { once.Do(func() { _ = ps.Close() }) },
	}

	go r.pump(ctx, path, ps, snaps, first, sub.stop)

	return sub, nil
}

// pump forwards committed values to the snapshot channel. It never blocks
// the pub/sub reader: a consumer that cannot keep up has its stream closed
// instead of holding back delivery to others.
func (r *Redis) pump(ctx context.Context, path string, ps *redis.PubSub, snaps chan Snapshot, first Snapshot, stop func()) {
	defer close(snaps)
	defer stop()

	snaps <- first

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			snap := Snapshot{Path: path}
			if msg.Payload != absent {
				snap.Value = []byte(msg.Payload)
				snap.Exists = true
			}

			select {
			case snaps <- snap:
			default:
				slog.WarnContext(ctx, "store: slow subscriber, closing stream", "path", path)
				return
			}
		}
	}
}

func (r *Redis) Transact(ctx context.Context, path string, fn UpdateFunc) ([]byte, error) {
	key := r.key(path)

	var committed []byte
	attempt := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if stderrors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.Publish(ctx, r.channel(path), next)
			return nil
		})
		if err != nil {
			return err
		}

		committed = next
		return nil
	}

	for i := 0; i < r.txRetries; i++ {
		err := r.rdb.Watch(ctx, attempt, key)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return committed, nil
	}

	return nil, errors.New(errors.CodeAborted,
		errors.WithMessagef("store: transaction on %q lost %d races, giving up", path, r.txRetries))
}
