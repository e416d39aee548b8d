package assignment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces every key written by RedisIndex
const DefaultKeyPrefix = "rolekeeper:"

// reassignScript moves every field of KEYS[1] into KEYS[2] without
// overwriting existing fields and rewrites the per-user role sets.
var reassignScript = redis.NewScript(`
local entries = redis.call('HGETALL', KEYS[1])
local moved = 0
for i = 1, #entries, 2 do
	local user = entries[i]
	redis.call('HSETNX', KEYS[2], user, entries[i + 1])
	redis.call('SREM', ARGV[1] .. user, ARGV[2])
	redis.call('SADD', ARGV[1] .. user, ARGV[3])
	moved = moved + 1
end
if moved > 0 then
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[3], ARGV[2])
	redis.call('SADD', KEYS[3], ARGV[3])
end
return moved
`)

// RedisIndex stores assignments in Redis.
//
//	<prefix>assign:role:<id>  hash user id -> assigned time (RFC3339Nano)
//	<prefix>assign:user:<id>  set of role ids
//	<prefix>assign:roles      set of role ids with at least one user
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisIndex{client: client, prefix: prefix}
}

func (r *RedisIndex) roleKey(roleID string) string { return r.prefix + "assign:role:" + roleID }
func (r *RedisIndex) userPrefix() string           { return r.prefix + "assign:user:" }
func (r *RedisIndex) userKey(userID string) string { return r.userPrefix() + userID }
func (r *RedisIndex) rolesKey() string             { return r.prefix + "assign:roles" }

func (r *RedisIndex) Assign(ctx context.Context, roleID string, userIDs []string, at time.Time) ([]string, error) {
	users := normalizeUsers(userIDs)
	added := make([]string, 0, len(users))
	if len(users) == 0 {
		return added, nil
	}

	stamp := at.UTC().Format(time.RFC3339Nano)
	cmds := make([]*redis.BoolCmd, len(users))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, user := range users {
			cmds[i] = pipe.HSetNX(ctx, r.roleKey(roleID), user, stamp)
			pipe.SAdd(ctx, r.userKey(user), roleID)
		}
		pipe.SAdd(ctx, r.rolesKey(), roleID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis assign failed: %w", err)
	}

	for i, cmd := range cmds {
		if cmd.Val() {
			added = append(added, users[i])
		}
	}
	return added, nil
}

func (r *RedisIndex) Unassign(ctx context.Context, roleID string, userIDs []string) error {
	users := normalizeUsers(userIDs)
	if len(users) == 0 {
		return nil
	}

	var remaining *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields := make([]string, len(users))
		for i, user := range users {
			fields[i] = user
			pipe.SRem(ctx, r.userKey(user), roleID)
		}
		pipe.HDel(ctx, r.roleKey(roleID), fields...)
		remaining = pipe.HLen(ctx, r.roleKey(roleID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unassign failed: %w", err)
	}

	if remaining.Val() == 0 {
		if err := r.client.SRem(ctx, r.rolesKey(), roleID).Err(); err != nil {
			return fmt.Errorf("redis unassign failed: %w", err)
		}
	}
	return nil
}

func (r *RedisIndex) UsersForRole(ctx context.Context, roleID string) ([]Record, error) {
	entries, err := r.client.HGetAll(ctx, r.roleKey(roleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get assignments failed: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for user, stamp := range entries {
		at, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("invalid assignment time for user %s: %w", user, err)
		}
		records = append(records, Record{UserID: user, RoleID: roleID, AssignedAt: at})
	}
	sortRecords(records)
	return records, nil
}

func (r *RedisIndex) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	roles, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get user roles failed: %w", err)
	}
	sort.Strings(roles)
	return roles, nil
}

func (r *RedisIndex) Count(ctx context.Context, roleID string) (int, error) {
	n, err := r.client.HLen(ctx, r.roleKey(roleID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count failed: %w", err)
	}
	return int(n), nil
}

func (r *RedisIndex) Counts(ctx context.Context) (map[string]int, error) {
	roles, err := r.client.SMembers(ctx, r.rolesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list roles failed: %w", err)
	}

	cmds := make(map[string]*redis.IntCmd, len(roles))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range roles {
			cmds[id] = pipe.HLen(ctx, r.roleKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis count failed: %w", err)
	}

	counts := make(map[string]int, len(roles))
	for id, cmd := range cmds {
		if n := cmd.Val(); n > 0 {
			counts[id] = int(n)
		}
	}
	return counts, nil
}

func (r *RedisIndex) Reassign(ctx context.Context, from, to string) (int, error) {
	if from == to {
		return 0, nil
	}

	moved, err := reassignScript.Run(ctx, r.client,
		[]string{r.roleKey(from), r.roleKey(to), r.rolesKey()},
		r.userPrefix(), from, to,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis reassign failed: %w", err)
	}
	return moved, nil
}

func (r *RedisIndex) RemoveRole(ctx context.Context, roleID string) error {
	users, err := r.client.HKeys(ctx, r.roleKey(roleID)).Result()
	if err != nil {
		return fmt.Errorf("redis remove role failed: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, user := range users {
			pipe.SRem(ctx, r.userKey(user), roleID)
		}
		pipe.Del(ctx, r.roleKey(roleID))
		pipe.SRem(ctx, r.rolesKey(), roleID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove role failed: %w", err)
	}
	return nil
}
