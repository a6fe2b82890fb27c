package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0m3kk/eventlog/eventsrc"
)

// saveSnapshotScript stores a snapshot unless a newer one is already cached.
// KEYS[1] = snapshot key
// ARGV[1] = version
// ARGV[2] = state (JSON)
// ARGV[3] = created_at (unix nanoseconds)
// ARGV[4] = ttl in milliseconds, 0 for none
var saveSnapshotScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if current and tonumber(current) >= tonumber(ARGV[1]) then
    return 0
end

redis.call("HSET", KEYS[1], "version", ARGV[1], "state", ARGV[2], "created_at", ARGV[3])
if tonumber(ARGV[4]) > 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return 1
`)

// SnapshotStore implements eventsrc.SnapshotStore on Redis hashes. It is a cache:
// an evicted or expired snapshot only means a longer replay.
type SnapshotStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithTTL expires snapshots ttl after they were last written.
func WithTTL(ttl time.Duration) Option {
	return func(s *SnapshotStore) { s.ttl = ttl }
}

// WithKeyPrefix replaces the default "snapshot:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *SnapshotStore) { s.prefix = prefix }
}

func NewSnapshotStore(client redis.UniversalClient, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{client: client, prefix: "snapshot:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotStore) key(aggregateID string) string {
	return s.prefix + aggregateID
}

func (s *SnapshotStore) Save(ctx context.Context, snap eventsrc.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := saveSnapshotScript.Run(ctx, s.client, []string{s.key(snap.AggregateID)},
		snap.Version, string(snap.State), snap.CreatedAt.UnixNano(), s.ttl.Milliseconds()).Result()
	if err != nil {
		return mapError("save snapshot", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, aggregateID string) (*eventsrc.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key(aggregateID)).Result()
	if err != nil {
		return nil, mapError("load snapshot", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad version %q: %w", aggregateID, fields["version"], err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad created_at %q: %w", aggregateID, fields["created_at"], err)
	}
	return &eventsrc.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       []byte(fields["state"]),
		CreatedAt:   time.Unix(0, createdAt).UTC(),
	}, nil
}

// Delete drops the cached snapshot of one aggregate.
func (s *SnapshotStore) Delete(ctx context.Context, aggregateID string) error {
	if err := s.client.Del(ctx, s.key(aggregateID)).Err(); err != nil {
		return mapError("delete snapshot", err)
	}
	return nil
}

func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return eventsrc.Unavailable(op, err)
}

var _ eventsrc.SnapshotStore = (*SnapshotStore)(nil)
