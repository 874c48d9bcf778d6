// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/jason-s-yu/cluedo/internal/peer"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list (queue) name for game action logs.
const DefaultQueueName = "cluedo_actions"

// PeersKey is the Redis hash holding one JSON-encoded peer.Info per locator.
const PeersKey = "cluedo_peers"

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes committed game actions onto the historian queue.
type Publisher struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

func NewPublisher(rdb *redis.Client, queue string, logger *logrus.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue, logger: logger}
}

// Publish serializes the action to JSON and pushes it to the queue.
func (p *Publisher) Publish(ctx context.Context, action models.GameAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal GameAction: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// LogAction publishes asynchronously so game logic never waits on Redis.
func (p *Publisher) LogAction(ctx context.Context, action models.GameAction) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.Publish(ctx, action); err != nil {
			p.logger.Warnf("Error publishing action %s v%d for game %s: %v", action.ActionType, action.Version, action.GameID, err)
		}
	}()
}

// PeerRegistry is a peer.Registry shared by every peer through Redis.
type PeerRegistry struct {
	rdb *redis.Client
	key string
}

func NewPeerRegistry(rdb *redis.Client) *PeerRegistry {
	return &PeerRegistry{rdb: rdb, key: PeersKey}
}

func (r *PeerRegistry) put(ctx context.Context, info peer.Info) error {
	info.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.key, info.Locator(), data).Err()
}

func (r *PeerRegistry) AddPeer(ctx context.Context, info peer.Info) error {
	return r.put(ctx, info)
}

func (r *PeerRegistry) UpdatePeer(ctx context.Context, info peer.Info) error {
	ok, err := r.rdb.HExists(ctx, r.key, info.Locator()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", peer.ErrUnknownPeer, info.Locator())
	}
	return r.put(ctx, info)
}

func (r *PeerRegistry) RemovePeer(ctx context.Context, locator string) error {
	return r.rdb.HDel(ctx, r.key, locator).Err()
}

func (r *PeerRegistry) FindPeer(ctx context.Context, locator string) (peer.Info, error) {
	var info peer.Info
	data, err := r.rdb.HGet(ctx, r.key, locator).Bytes()
	if errors.Is(err, redis.Nil) {
		return info, fmt.Errorf("%w: %s", peer.ErrUnknownPeer, locator)
	}
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

func (r *PeerRegistry) Peers(ctx context.Context) ([]peer.Info, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]peer.Info, 0, len(all))
	for locator, data := range all {
		var info peer.Info
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			return nil, fmt.Errorf("peer %s: %w", locator, err)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locator() < out[j].Locator() })
	return out, nil
}

// Consumer pops committed game actions off the historian queue.
type Consumer struct {
	rdb   *redis.Client
	queue string
}

func NewConsumer(rdb *redis.Client, queue string) *Consumer {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Consumer{rdb: rdb, queue: queue}
}

// Pop blocks up to timeout for the next action. It returns nil, nil when the queue stayed empty.
func (c *Consumer) Pop(ctx context.Context, timeout time.Duration) (*models.GameAction, error) {
	res, err := c.rdb.BLPop(ctx, timeout, c.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", c.queue, err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var action models.GameAction
	if err := json.Unmarshal([]byte(res[1]), &action); err != nil {
		return nil, fmt.Errorf("invalid action record: %w", err)
	}
	return &action, nil
}
