package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api"
)

// Notifier pushes finished videos to users over the bot API.
type Notifier struct {
	bot   *tgbot.BotAPI
	debug bool
}

type Config struct {
	Token string
	Debug bool
}

func New(cfg *Config) (*Notifier, error) {
	bot, err := tgbot.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create bot: %w", err)
	}
	return &Notifier{
		bot:   bot,
		debug: cfg.Debug,
	}, nil
}

var backoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// SendVideo delivers a video to a chat with a caption. The video can be a
// local file path or a URL already hosted somewhere.
func (n *Notifier) SendVideo(ctx context.Context, chatID int64, video, caption string) error {
	var msg tgbot.VideoConfig
	if strings.HasPrefix(video, "http") {
		msg = tgbot.NewVideoShare(chatID, video)
	} else {
		msg = tgbot.NewVideoUpload(chatID, video)
	}
	msg.Caption = caption

	maxAttempts := 3
	attempts := 0
	for {
		_, err := n.bot.Send(msg)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= maxAttempts {
			return fmt.Errorf("telegram: couldn't send video: %w", err)
		}
		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		wait := backoff[idx]
		if n.debug {
			log.Printf("%v (retrying in %s)\n", err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("telegram: send video cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// SendMessage delivers a plain text message, used for failure notices.
func (n *Notifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if _, err := n.bot.Send(tgbot.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: couldn't send message: %w", err)
	}
	return nil
}
