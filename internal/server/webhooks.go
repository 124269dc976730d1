package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookTarget struct {
	hook   config.WebhookConfig
	filter eventFilter
	client *http.Client
	cursor int64
}

// WebhookDispatcher forwards journal events to the configured webhooks.
// Each target keeps its own cursor and only sees events written after the
// dispatcher was primed. A failed delivery is retried on the next tick.
type WebhookDispatcher struct {
	engine   engine.Engine
	logger   zerolog.Logger
	interval time.Duration
	targets  []*webhookTarget
	primed   bool
}

func NewWebhookDispatcher(e engine.Engine, logger zerolog.Logger) *WebhookDispatcher {
	d := &WebhookDispatcher{
		engine:   e,
		logger:   logger.With().Str("component", "webhooks").Logger(),
		interval: defaultWebhookInterval,
	}
	if e.Config == nil {
		return d
	}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		d.targets = append(d.targets, &webhookTarget{
			hook:   hook,
			filter: newEventFilter(hook.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	return d
}

// Targets reports how many enabled webhooks will receive events.
func (d *WebhookDispatcher) Targets() int { return len(d.targets) }

// Prime moves every cursor to the newest journal entry.
func (d *WebhookDispatcher) Prime(ctx context.Context) error {
	latest, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("read latest event id: %w", err)
	}
	for _, t := range d.targets {
		t.cursor = latest
	}
	d.primed = true
	return nil
}

// Run delivers events until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if len(d.targets) == 0 {
		return nil
	}
	if !d.primed {
		if err := d.Prime(ctx); err != nil {
			return err
		}
	}
	d.logger.Info().Int("targets", len(d.targets)).Msg("webhook dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce sends one batch per target.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for _, t := range d.targets {
		d.dispatch(ctx, t)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, t *webhookTarget) {
	evts, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, t.cursor, t.hook.Project)
	if err != nil {
		d.logger.Error().Err(err).Str("url", t.hook.URL).Msg("fetch events failed")
		return
	}
	for _, evt := range evts {
		if t.filter.match(evt.Type) {
			if err := d.post(ctx, t, evt); err != nil {
				d.logger.Warn().Err(err).Str("url", t.hook.URL).Int64("event_id", evt.ID).Msg("webhook delivery failed")
				return
			}
			d.logger.Debug().Str("url", t.hook.URL).Str("type", evt.Type).Int64("event_id", evt.ID).Msg("webhook delivered")
		}
		t.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) post(ctx context.Context, t *webhookTarget, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if raw, ok := evt.Payload.(string); ok && json.Valid([]byte(raw)) {
		payload = json.RawMessage(raw)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskboard-Event", evt.Type)
	req.Header.Set("X-Taskboard-Delivery", strconv.FormatInt(evt.ID, 10))
	if evt.ProjectID != "" {
		req.Header.Set("X-Taskboard-Project", evt.ProjectID)
	}
	if strings.TrimSpace(t.hook.Secret) != "" {
		req.Header.Set("X-Taskboard-Secret", t.hook.Secret)
	}
	res, err := t.client.Do(req)
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

type eventFilter map[string]struct{}

// newEventFilter returns nil, matching everything, when no event types are listed.
func newEventFilter(types []string) eventFilter {
	set := eventFilter{}
	for _, typ := range types {
		if key := strings.TrimSpace(typ); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (f eventFilter) match(typ string) bool {
	if f == nil {
		return true
	}
	_, ok := f[typ]
	return ok
}
