package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/traits/internal/model"
)

// ─── Redis-backed station graph ─────────────────────────────
//
// Stations live in one hash (canonical key → JSON station). Each station's
// outgoing edges live in their own hash (canonical target → minutes), so a
// neighbor expansion is a single HGETALL.

const (
	redisStationsKey    = "topology:stations"
	redisEdgesKeyPrefix = "topology:edges:"
)

// TopologyRepository stores the station graph in Redis.
type TopologyRepository struct {
	redis *redis.Client
}

// NewTopologyRepository creates a new topology repository.
func NewTopologyRepository(client *redis.Client) *TopologyRepository {
	return &TopologyRepository{redis: client}
}

func edgesKey(from model.Key) string { return redisEdgesKeyPrefix + from.String() }

func (r *TopologyRepository) AddStation(ctx context.Context, st model.Station) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("add station %s: marshal: %w", st.Key.Display(), err)
	}
	added, err := r.redis.HSetNX(ctx, redisStationsKey, st.Key.String(), body).Result()
	if err != nil {
		return fmt.Errorf("add station %s: %w", st.Key.Display(), err)
	}
	if !added {
		return fmt.Errorf("add station %s: %w", st.Key.Display(), ErrDuplicate)
	}
	return nil
}

func (r *TopologyRepository) GetStation(ctx context.Context, key model.Key) (*model.Station, error) {
	body, err := r.redis.HGet(ctx, redisStationsKey, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get station %s: %w", key.Display(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get station %s: %w", key.Display(), err)
	}
	var st model.Station
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("get station %s: decode: %w", key.Display(), err)
	}
	return &st, nil
}

func (r *TopologyRepository) StationExists(ctx context.Context, key model.Key) (bool, error) {
	ok, err := r.redis.HExists(ctx, redisStationsKey, key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("station exists %s: %w", key.Display(), err)
	}
	return ok, nil
}

func (r *TopologyRepository) AddConnection(ctx context.Context, c model.Connection) error {
	added, err := r.redis.HSetNX(ctx, edgesKey(c.From), c.To.String(), c.TravelMinutes).Result()
	if err != nil {
		return fmt.Errorf("connect %s → %s: %w", c.From.Display(), c.To.Display(), err)
	}
	if !added {
		return fmt.Errorf("connect %s → %s: %w", c.From.Display(), c.To.Display(), ErrDuplicate)
	}
	return nil
}

func (r *TopologyRepository) TravelTime(ctx context.Context, from, to model.Key) (int, bool, error) {
	minutes, err := r.redis.HGet(ctx, edgesKey(from), to.String()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("travel time %s → %s: %w", from.Display(), to.Display(), err)
	}
	return minutes, true, nil
}

func (r *TopologyRepository) Neighbors(ctx context.Context, from model.Key) ([]model.Connection, error) {
	fields, err := r.redis.HGetAll(ctx, edgesKey(from)).Result()
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", from.Display(), err)
	}
	out := make([]model.Connection, 0, len(fields))
	for to, v := range fields {
		toKey, err := scanKey(to)
		if err != nil {
			return nil, err
		}
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("neighbors of %s: bad minutes %q: %w", from.Display(), v, err)
		}
		out = append(out, model.Connection{From: from, To: toKey, TravelMinutes: minutes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To.Less(out[j].To) })
	return out, nil
}
