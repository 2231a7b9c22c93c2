package notify

import (
	"net/http"

	"github.com/vietddude/slotwatcher/internal/relay"
)

// CommandConfig configures the local command backend.
type CommandConfig struct {
	Enabled bool   `yaml:"enabled"`
	Line    string `yaml:"line"`
}

// Config enables and configures every notification backend.
type Config struct {
	Command  CommandConfig  `yaml:"command"`
	Zulip    ZulipConfig    `yaml:"zulip"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Pushover PushoverConfig `yaml:"pushover"`
	Gotify   GotifyConfig   `yaml:"gotify"`
}

// Build returns the enabled backends in their fixed enumeration order,
// which is also the relay's tie-break order.
func Build(cfg Config, client *http.Client) []relay.Notifier {
	var out []relay.Notifier
	if cfg.Command.Enabled {
		out = append(out, NewCommand(cfg.Command.Line))
	}
	if cfg.Zulip.Enabled {
		out = append(out, NewZulip(cfg.Zulip, client))
	}
	if cfg.Telegram.Enabled {
		out = append(out, NewTelegram(cfg.Telegram, client))
	}
	if cfg.Slack.Enabled {
		out = append(out, NewSlack(cfg.Slack, client))
	}
	if cfg.Pushover.Enabled {
		out = append(out, NewPushover(cfg.Pushover, client))
	}
	if cfg.Gotify.Enabled {
		out = append(out, NewGotify(cfg.Gotify, client))
	}
	return out
}
