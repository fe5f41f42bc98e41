package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// Discord allows at most 10 embeds per webhook execution.
const discordEmbedsPerRequest = 10

// Discord posts one embed per activity to a webhook. Configure either a
// full webhook url or the webhook_id / webhook_token pair.
type Discord struct {
	base

	client     *http.Client
	webhookURL string
}

// embedColors by action kind, 24-bit RGB as Discord expects.
var embedColors = map[pipeline.Action]int{
	pipeline.ActionCreate:  0x2ecc71, // green
	pipeline.ActionEdit:    0x3498db, // blue
	pipeline.ActionMove:    0x9b59b6, // purple
	pipeline.ActionRename:  0xf1c40f, // yellow
	pipeline.ActionDelete:  0xe74c3c, // red
	pipeline.ActionRestore: 0x1abc9c, // teal
}

const embedColorDefault = 0x95a5a6 // grey

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func NewDiscord(cfg config.SinkConfig, logger *slog.Logger) (*Discord, error) {
	webhookURL := cfg.URL
	if webhookURL == "" {
		webhookURL = fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", cfg.WebhookID, cfg.WebhookToken)
	}

	return &Discord{
		base:       newBase(cfg, logger),
		client:     &http.Client{Timeout: 30 * time.Second},
		webhookURL: webhookURL,
	}, nil
}

func (d *Discord) Deliver(ctx context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	embeds := make([]discordEmbed, 0, len(batch))
	for _, act := range batch {
		embeds = append(embeds, d.embed(act))
	}

	for len(embeds) > 0 {
		n := min(len(embeds), discordEmbedsPerRequest)

		if err := d.post(ctx, embeds[:n]); err != nil {
			return pipeline.Outcome{}, err
		}

		embeds = embeds[n:]
	}

	d.logger.Debug("discord notification sent", slog.Int("activities", len(batch)))

	return pipeline.Outcome{}, nil
}

func (d *Discord) embed(act pipeline.Activity) discordEmbed {
	color, ok := embedColors[act.Action]
	if !ok {
		color = embedColorDefault
	}

	kind := "File"
	if act.IsFolder {
		kind = "Folder"
	}

	e := discordEmbed{
		Title:       fmt.Sprintf("%s %s: %s", kind, act.Action, act.Title),
		Description: d.MapPath(act.ResolvedPath),
		URL:         act.Link,
		Color:       color,
		Fields: []discordEmbedField{
			{Name: "Watcher", Value: act.Poller, Inline: true},
		},
	}

	if act.Detail != "" {
		e.Fields = append(e.Fields, discordEmbedField{Name: "Detail", Value: act.Detail, Inline: true})
	}

	if !act.Timestamp.IsZero() {
		e.Timestamp = act.Timestamp.UTC().Format(time.RFC3339)
	}

	return e
}

func (d *Discord) post(ctx context.Context, embeds []discordEmbed) error {
	payload, err := json.Marshal(map[string]any{"embeds": embeds})
	if err != nil {
		return fmt.Errorf("discord: encoding embeds: %w", err)
	}

	body, status, err := doRequest(ctx, d.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")

		return req, nil
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	if !ok2xx(status) {
		return statusError("discord", status, body)
	}

	return nil
}
