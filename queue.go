/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tillsync

import (
	"github.com/hibiken/asynq"

	"github.com/blnkfinance/tillsync/config"
	redis_db "github.com/blnkfinance/tillsync/internal/redis-db"
)

// Queue is the asynq client the engine enqueues webhook deliveries on.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
}

// RedisConnOpt converts the configured redis address into asynq options.
func RedisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue connects the webhook queue. It returns nil, nil when redis is
// not configured: a lone till runs without webhooks.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	if conf.Redis.Dns == "" {
		return nil, nil
	}
	opt, err := RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}
	name := conf.Queue.WebhookQueue
	if name == "" {
		name = config.DEFAULT_WEBHOOK_QUEUE
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      name,
	}, nil
}

func (q *Queue) Close() error {
	if q == nil {
		return nil
	}
	_ = q.Inspector.Close()
	return q.Client.Close()
}
