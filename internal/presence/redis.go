package presence

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"call-signaling/internal/metrics"
	"call-signaling/internal/signaling"
)

const (
	defaultSetKey     = "presence:online"
	defaultUserPrefix = "presence:user:"
)

type op struct {
	online  bool
	id      string
	profile []byte
}

type MirrorOptions struct {
	SetKey     string
	UserPrefix string
	QueueSize  int
	OpTimeout  time.Duration
}

// RedisMirror copies coordinator presence into Redis so other services can
// read who is online. Updates are queued and applied by Run; a full queue drops
// the update.
type RedisMirror struct {
	rdb   *redis.Client
	log   *slog.Logger
	opts  MirrorOptions
	queue chan op
}

func NewRedisMirror(rdb *redis.Client, log *slog.Logger, opts MirrorOptions) *RedisMirror {
	if opts.SetKey == "" {
		opts.SetKey = defaultSetKey
	}
	if opts.UserPrefix == "" {
		opts.UserPrefix = defaultUserPrefix
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	return &RedisMirror{
		rdb:   rdb,
		log:   log.With("component", "presence_mirror"),
		opts:  opts,
		queue: make(chan op, opts.QueueSize),
	}
}

func (m *RedisMirror) Online(id signaling.Identity) {
	m.enqueue(op{online: true, id: id.ID, profile: id.Profile})
}

func (m *RedisMirror) Offline(identityID string) {
	m.enqueue(op{id: identityID})
}

func (m *RedisMirror) enqueue(o op) {
	select {
	case m.queue <- o:
	default:
		metrics.RecordQueueDropped("presence_mirror")
		m.log.Warn("presence update dropped", "user_id", o.id, "online", o.online)
	}
}

// Run applies queued updates until ctx is cancelled, then removes every user
// this instance marked online.
func (m *RedisMirror) Run(ctx context.Context) error {
	mine := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			m.cleanup(mine)
			return nil
		case o := <-m.queue:
			if err := m.apply(ctx, o); err != nil {
				m.log.Warn("presence update failed", "user_id", o.id, "online", o.online, "err", err)
				continue
			}
			if o.online {
				mine[o.id] = struct{}{}
			} else {
				delete(mine, o.id)
			}
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, o op) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	userKey := m.opts.UserPrefix + o.id
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if o.online {
			p.SAdd(ctx, m.opts.SetKey, o.id)
			p.HSet(ctx, userKey, "profile", string(o.profile), "since", time.Now().UTC().Format(time.RFC3339))
			return nil
		}
		p.SRem(ctx, m.opts.SetKey, o.id)
		p.Del(ctx, userKey)
		return nil
	})
	return err
}

func (m *RedisMirror) cleanup(mine map[string]struct{}) {
	if len(mine) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OpTimeout)
	defer cancel()

	ids := make([]string, 0, len(mine))
	for id := range mine {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := m.apply(ctx, op{id: id}); err != nil {
			m.log.Warn("presence cleanup failed", "user_id", id, "err", err)
			return
		}
	}
	m.log.Info("presence cleared", "users", len(ids))
}

// OnlineUsers reads the mirrored set, sorted.
func (m *RedisMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, m.opts.SetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Profile returns the mirrored profile JSON for one user.
func (m *RedisMirror) Profile(ctx context.Context, identityID string) ([]byte, error) {
	return m.rdb.HGet(ctx, m.opts.UserPrefix+identityID, "profile").Bytes()
}
