package notify

import (
	"context"
	"fmt"
	"net/http"
)

const (
	// discordContentLimit is the longest message a webhook accepts.
	discordContentLimit = 2000
	discordUsername     = "Treasure Chest"
)

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newSenderClient()}
}

type discordMessage struct {
	Username        string `json:"username"`
	Content         string `json:"content"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts a bold title over the message, truncated to the webhook limit.
// Mentions in alert text are never resolved.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}
	msg := discordMessage{Username: discordUsername, Content: content}
	msg.AllowedMentions.Parse = []string{}

	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
