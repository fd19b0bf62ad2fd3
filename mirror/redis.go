// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mirror

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store backed by a Redis database.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a Store writing to database db of the Redis server at
// addr.
func NewRedis(addr string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Connect checks that the server is reachable.
func (r *Redis) Connect(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection to the server.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Apply implements Store, using a MULTI/EXEC pipeline so that either all of
// changes are applied or none are.
func (r *Redis) Apply(ctx context.Context, changes []Change) error {
	pipe := r.client.TxPipeline()
	for _, c := range changes {
		pipe.Del(ctx, c.Key)
		if c.Fields == nil {
			continue
		}
		if len(c.Fields) == 0 {
			pipe.HSet(ctx, c.Key, "NULL", "NULL")
			continue
		}
		args := make([]interface{}, 0, len(c.Fields)*2)
		for k, v := range c.Fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, c.Key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}

// Get returns the hash stored under key.
func (r *Redis) Get(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}
