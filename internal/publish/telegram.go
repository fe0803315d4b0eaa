package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"postpilot/internal/store"
)

// Telegram sends the post text to a fixed chat. The bot client is cached per
// token because telebot validates the token against getMe on construction,
// which is one network round trip too many to pay for every post.
type Telegram struct {
	chatID  int64
	timeout time.Duration

	mu       sync.Mutex
	botToken string
	bot      *tele.Bot
}

func NewTelegram(chatID int64, timeout time.Duration) *Telegram {
	return &Telegram{chatID: chatID, timeout: timeout}
}

func (t *Telegram) client(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil && t.botToken == token {
		return t.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: newHTTPClient(t.timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.bot = b
	t.botToken = token
	return b, nil
}

func (t *Telegram) Publish(ctx context.Context, p store.Post, token string) (Result, error) {
	if token == "" {
		return Result{}, errors.New("telegram: no bot token")
	}
	if t.chatID == 0 {
		return Result{}, errors.New("telegram: chat_id not configured")
	}

	b, err := t.client(token)
	if err != nil {
		return Result{}, err
	}

	msg, err := b.Send(tele.ChatID(t.chatID), p.Text)
	if err != nil {
		return Result{}, fmt.Errorf("telegram: %w", err)
	}
	return Result{PlatformID: strconv.Itoa(msg.ID)}, nil
}
