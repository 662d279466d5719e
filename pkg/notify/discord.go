package notify

import (
	"context"
	"strings"
	"unicode/utf8"

	"testbot/pkg/models"
)

// discordLimit is the maximum message length, in characters, Discord accepts.
const discordLimit = 2000

// DiscordNotifier posts a plain-text message to a Discord webhook.
type DiscordNotifier struct {
	url    string
	poster *poster
}

type discordPayload struct {
	Content string `json:"content"`
}

func (d *DiscordNotifier) Name() string { return TypeDiscord }

func (d *DiscordNotifier) Notify(ctx context.Context, meta models.RunMetadata) error {
	return d.poster.postJSON(ctx, d.url, discordPayload{Content: discordContent(meta)}, nil)
}

func discordContent(meta models.RunMetadata) string {
	rows := append([]string{Title(meta)}, OutcomeLines(meta)...)
	content := strings.Join(rows, "\n")
	if utf8.RuneCountInString(content) > discordLimit {
		content = string([]rune(content)[:discordLimit-3]) + "..."
	}
	return content
}
