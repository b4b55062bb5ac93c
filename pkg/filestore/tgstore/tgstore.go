package tgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api"
)

// Store keeps finished videos in a telegram chat and returns the file id as
// the public reference, so the notifier can re-share it without re-uploading.
type Store struct {
	bot    *tgbot.BotAPI
	token  string
	chat   int64
	client *http.Client
	debug  bool
}

func New(token string, chat int64, proxy string, debug bool) (*Store, error) {
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	// Check that chatID is valid
	if _, err := bot.GetChat(tgbot.ChatConfig{ChatID: chat}); err != nil {
		return nil, fmt.Errorf("tgstore: invalid chat id: %w", err)
	}

	client := &http.Client{
		Timeout: 60 * time.Second,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("tgstore: invalid proxy %s: %w", proxy, err)
		}
		client.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	return &Store{
		bot:    bot,
		token:  token,
		chat:   chat,
		client: client,
		debug:  debug,
	}, nil
}

var backoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

func (s *Store) Upload(ctx context.Context, path, name string) (string, error) {
	video := tgbot.NewVideoUpload(s.chat, path)
	video.Caption = name

	// Upload file
	maxAttempts := 3
	attempts := 0
	var msg tgbot.Message
	for {
		var err error
		msg, err = s.bot.Send(video)
		if err == nil {
			break
		}

		// Increase attempts and check if we should stop
		attempts++
		if attempts >= maxAttempts {
			return "", fmt.Errorf("tgstore: couldn't send file: %w", err)
		}
		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		wait := backoff[idx]
		t := time.NewTimer(wait)
		if s.debug {
			log.Printf("%v (retrying in %s)\n", err, wait)
		}
		select {
		case <-ctx.Done():
			t.Stop()
			return "", fmt.Errorf("tgstore: send file cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	var fileID string
	switch {
	case msg.Video != nil && msg.Video.FileID != "":
		fileID = msg.Video.FileID
	case msg.Document != nil && msg.Document.FileID != "":
		fileID = msg.Document.FileID
	case msg.Photo != nil && len(*msg.Photo) > 0:
		fileID = (*msg.Photo)[0].FileID
	}
	if fileID == "" {
		js, _ := json.Marshal(msg)
		return "", fmt.Errorf("tgstore: message doesn't contain file: %s", string(js))
	}
	return fileID, nil
}
