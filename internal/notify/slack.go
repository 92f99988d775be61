package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s SlackNotifier) Notify(ctx context.Context, channel, message string) error {
	if strings.TrimSpace(s.WebhookURL) == "" {
		return nil
	}
	data, err := json.Marshal(slackMessage{Text: fmt.Sprintf("[%s] %s", channel, message)})
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateline-Channel", channel)
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("slack webhook: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
