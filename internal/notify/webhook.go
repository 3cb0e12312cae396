package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agrotasks/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink posts each notification as JSON to the configured endpoints.
type WebhookSink struct {
	hooks   []config.WebhookConfig
	filters []eventFilter
	client  *http.Client
}

func NewWebhookSink(hooks []config.WebhookConfig) *WebhookSink {
	s := &WebhookSink{client: &http.Client{Timeout: defaultWebhookTimeout}}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		s.hooks = append(s.hooks, hook)
		s.filters = append(s.filters, newEventFilter(hook.Events))
	}
	return s
}

func (*WebhookSink) Name() string { return "webhook" }

// Send delivers to every matching hook and returns the first failure.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	var firstErr error
	for i, hook := range s.hooks {
		if !s.filters[i].match(msg.Event) {
			continue
		}
		if err := s.post(ctx, hook, msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("webhook %s: %w", hook.URL, err)
		}
	}
	return firstErr
}

func (s *WebhookSink) post(ctx context.Context, hook config.WebhookConfig, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client := s.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agrotasks-Event", msg.Event)
	req.Header.Set("X-Agrotasks-Delivery", msg.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Agrotasks-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
