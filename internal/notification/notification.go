/*
Copyright 2025 NBA Stats Scraper Authors.

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
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/internal/request"
)

// ProcessorAlert is raised when a processor remains absent for a run-date
// after the reconciler's grace period.
type ProcessorAlert struct {
	Phase     string        `json:"phase"`
	RunDate   string        `json:"run_date"`
	Processor string        `json:"processor_name"`
	Elapsed   time.Duration `json:"elapsed"`
	Reason    string        `json:"reason"`
}

func (a ProcessorAlert) String() string {
	return fmt.Sprintf("processor %s absent for %s/%s after %v: %s",
		a.Processor, a.Phase, a.RunDate, a.Elapsed.Round(time.Second), a.Reason)
}

// SlackNotification posts a message to the configured Slack webhook.
func SlackNotification(header, detail string) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": %q,
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Detail:*\n%s"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%s"
					}
				]
			}
		]
	}`, header, detail, time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		log.Println(err)
	}
}

// WebhookNotification posts an arbitrary payload to the configured generic
// webhook with its configured headers.
func WebhookNotification(payload interface{}) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for k, v := range conf.Notification.Webhook.Headers {
		req.Header.Set(k, v)
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	return err
}

// NotifyError reports a system error through the configured channels. It runs
// asynchronously so callers on the event path never block on a webhook.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification("Pipeline Orchestrator Error", systemError.Error())
		}
	}(systemError)
}

// NotifyProcessorAbsent escalates a persistently absent processor to the
// operator channels.
func NotifyProcessorAbsent(alert ProcessorAlert) {
	go func(alert ProcessorAlert) {
		logrus.Warn(alert.String())

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification("Processor Absent", alert.String())
		}
		if err := WebhookNotification(alert); err != nil {
			log.Println(err)
		}
	}(alert)
}
