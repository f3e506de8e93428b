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
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/connectivity"
	"github.com/blnkfinance/tillsync/database"
	"github.com/blnkfinance/tillsync/internal/cache"
	"github.com/blnkfinance/tillsync/internal/notification"
	redis_db "github.com/blnkfinance/tillsync/internal/redis-db"
	"github.com/blnkfinance/tillsync/model"
	"github.com/blnkfinance/tillsync/wire"
)

// TillSync is the offline order queue of one till: it stores orders while
// the ledger is unreachable and drives them to the ledger when it is back.
type TillSync struct {
	datasource database.IDataSource
	committer  wire.Committer
	monitor    *connectivity.Monitor
	redis      redis.UniversalClient
	queue      *Queue
	cfg        *config.Configuration
	retry      retryPolicy
	owner      string
	now        func() time.Time

	batchMu  sync.Mutex
	driverMu sync.Mutex
	driver   *driver
}

type Option func(*TillSync)

// WithRedis enables distributed per-order locks for sites where several
// processes share one order store.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *TillSync) { s.redis = client }
}

// WithQueue enables webhook delivery through asynq.
func WithQueue(q *Queue) Option {
	return func(s *TillSync) { s.queue = q }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TillSync) { s.now = now }
}

// NewTillSync wires the engine from its collaborators. The configuration is
// read from the config store.
func NewTillSync(db database.IDataSource, committer wire.Committer, monitor *connectivity.Monitor, opts ...Option) (*TillSync, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if monitor == nil {
		return nil, fmt.Errorf("a connectivity monitor is required")
	}
	s := &TillSync{
		datasource: db,
		committer:  committer,
		monitor:    monitor,
		cfg:        cfg,
		retry:      newRetryPolicy(cfg.Sync),
		owner:      model.GenerateUUIDWithSuffix("till"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.TerminalID != "" {
		s.owner = cfg.TerminalID + ":" + s.owner
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue != nil {
		notification.RegisterWebhookSender(func(event string, payload interface{}) error {
			return s.queue.SendWebhook(NewWebhook{Event: event, Payload: payload})
		})
	}
	return s, nil
}

// NewFromConfig builds the whole engine the way the CLI runs it: the order
// store, the ledger client, the process-wide connectivity monitor and, when
// redis is configured, order locks, the shared commit cache and webhooks.
func NewFromConfig(cfg *config.Configuration) (*TillSync, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	var opts []Option
	clientOpts := []wire.Option{}
	if cfg.Redis.Dns != "" {
		rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		queue, err := NewQueue(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRedis(rdb.Client()), WithQueue(queue))
		clientOpts = append(clientOpts, wire.WithCommitCache(cache.NewCache(rdb.Client()), cfg.Sync.CommitCacheTTL()))
	} else {
		clientOpts = append(clientOpts, wire.WithCommitCache(cache.NewLocalCache(cfg.Sync.CommitCacheTTL()), cfg.Sync.CommitCacheTTL()))
	}

	client := wire.NewClient(cfg.Ledger, clientOpts...)
	monitor := connectivity.Init(client, connectivity.Options{
		ProbeTimeout: cfg.Ledger.ProbeTimeoutDuration(),
		Interval:     cfg.Sync.ConnectivityInterval(),
	})
	return NewTillSync(db, client, monitor, opts...)
}

// Monitor exposes the connectivity monitor for subscribe/unsubscribe.
func (s *TillSync) Monitor() *connectivity.Monitor {
	return s.monitor
}

// Close stops background work and releases the queue connection.
func (s *TillSync) Close() error {
	s.Stop()
	s.monitor.Stop()
	return s.queue.Close()
}
