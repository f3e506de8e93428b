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

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/request"
)

// WebhookSender forwards a system event to the configured webhook queue.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender lets the engine route error notifications through
// its webhook queue without this package importing it.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	webhookSender = sender
	senderMu.Unlock()
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

// SlackNotification posts err to a Slack incoming webhook.
func SlackNotification(webhookURL, source string, err error) error {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {"type": "plain_text", "text": "Error From %s 🐞", "emoji": true}
			},
			{
				"type": "section",
				"fields": [{"type": "mrkdwn", "text": "*Error:*\n%s"}]
			},
			{
				"type": "section",
				"fields": [{"type": "mrkdwn", "text": "*Time:*\n%s"}]
			}
		]
	}`, source, escape(err.Error()), time.Now().Format(time.RFC822)))

	payload, e := request.ToJsonReq(&data)
	if e != nil {
		return e
	}
	req, e := http.NewRequest(http.MethodPost, webhookURL, payload)
	if e != nil {
		return e
	}
	resp, e := request.Call(nil, req, nil)
	if e != nil {
		return e
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// escape makes s safe to embed inside a JSON string literal.
func escape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// NotifyError logs systemError and, in the background, forwards it to Slack
// and the webhook sender when either is configured.
func NotifyError(systemError error) {
	if systemError == nil {
		return
	}
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			return
		}
		if conf.Notification.Slack.WebhookUrl != "" {
			source := conf.ProjectName
			if source == "" {
				source = "tillsync"
			}
			if err := SlackNotification(conf.Notification.Slack.WebhookUrl, source, systemError); err != nil {
				logrus.WithError(err).Warn("slack notification failed")
			}
		}
		if send := currentSender(); send != nil {
			if err := send("system.error", map[string]interface{}{
				"error":       systemError.Error(),
				"terminal_id": conf.TerminalID,
				"timestamp":   time.Now().UTC(),
			}); err != nil {
				logrus.WithError(err).Warn("error webhook could not be queued")
			}
		}
	}(systemError)
}
