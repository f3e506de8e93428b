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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/request"
)

const (
	EventOrderSynced    = "order.synced"
	EventOrderFailed    = "order.failed"
	EventOrderRefunded  = "order.refunded"
	EventBatchCompleted = "sync.batch_completed"
	EventSystemError    = "system.error"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// SendWebhook enqueues a webhook delivery. Nothing is queued when no
// webhook url is configured.
func (q *Queue) SendWebhook(newWebhook NewWebhook) error {
	if q == nil {
		return nil
	}
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.name, payload, asynq.Queue(q.name), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	info, err := q.Client.Enqueue(task)
	if err != nil {
		logrus.WithError(err).WithField("event", newWebhook.Event).Error("could not enqueue webhook")
		return err
	}
	logrus.WithFields(logrus.Fields{"event": newWebhook.Event, "task_id": info.ID}).Debug("webhook enqueued")
	return nil
}

// ProcessWebhook delivers one queued webhook to the configured url. A non
// 2xx reply fails the task so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.Call(nil, req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s rejected with status %d", payload.Event, resp.StatusCode)
	}
	logrus.WithField("event", payload.Event).Info("webhook delivered")
	return nil
}

// emit queues a webhook without letting delivery problems reach the sync path.
func (s *TillSync) emit(event string, payload interface{}) {
	if s.queue == nil {
		return
	}
	if err := s.queue.SendWebhook(NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("webhook dropped")
	}
}
