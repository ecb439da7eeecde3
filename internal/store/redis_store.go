package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// touchScript refreshes last_seen only when the agent hash already exists,
// so a touch never creates a half-populated entry.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HSET", KEYS[1], "last_seen", ARGV[1])
	return 1
end
return 0
`)

// RedisRegistry keeps one hash per agent under "agent:<id>".
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to addr. A positive ttl expires agents that are
// not seen again within it.
func NewRedisRegistry(addr string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func agentKey(agentID string) string {
	return "agent:" + agentID
}

func (r *RedisRegistry) Upsert(ctx context.Context, agentID string, capabilities []string) error {
	if capabilities == nil {
		capabilities = []string{}
	}
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	key := agentKey(agentID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"agent_id", agentID,
		"capabilities", string(caps),
		"last_seen", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert %s: %w", agentID, err)
	}
	return nil
}

func (r *RedisRegistry) Touch(ctx context.Context, agentID string) (bool, error) {
	key := agentKey(agentID)
	n, err := touchScript.Run(ctx, r.client, []string{key}, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, fmt.Errorf("redis touch %s: %w", agentID, err)
	}
	if n == 1 && r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return true, fmt.Errorf("redis expire %s: %w", agentID, err)
		}
	}
	return n == 1, nil
}

func (r *RedisRegistry) Get(ctx context.Context, agentID string) (AgentEntry, bool, error) {
	fields, err := r.client.HGetAll(ctx, agentKey(agentID)).Result()
	if err == redis.Nil || (err == nil && len(fields) == 0) {
		return AgentEntry{}, false, nil
	}
	if err != nil {
		return AgentEntry{}, false, fmt.Errorf("redis get %s: %w", agentID, err)
	}
	entry := AgentEntry{AgentID: agentID}
	if raw := fields["capabilities"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Capabilities); err != nil {
			return AgentEntry{}, false, fmt.Errorf("decode capabilities %s: %w", agentID, err)
		}
	}
	if raw := fields["last_seen"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return AgentEntry{}, false, fmt.Errorf("decode last_seen %s: %w", agentID, err)
		}
		entry.LastSeen = ts
	}
	return entry, true, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
