package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	logx "postpilot/pkg/logx"
)

const (
	defaultModel = "gpt-4o-mini"
	maxDraftLen  = 280

	chatCompletionsURL = "https://api.openai.com/v1/chat/completions"
)

// Draft is a proposed post produced from a prompt.
type Draft struct {
	Text      string   `json:"text"`
	Platforms []string `json:"platforms"`
}

// Config controls the planner. With no APIKey the planner synthesizes
// drafts locally and deterministically.
type Config struct {
	APIKey string
	Model  string
}

// Planner turns a free-form prompt into a post draft.
type Planner struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Planner {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Planner{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Plan produces a draft for the prompt. Offline mode (no API key) returns
// the prompt itself, truncated to the platform limit.
func (pl *Planner) Plan(ctx context.Context, prompt string) (Draft, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Draft{}, errors.New("empty prompt")
	}
	if pl.cfg.APIKey == "" {
		return offlineDraft(prompt), nil
	}
	return pl.planRemote(ctx, prompt)
}

func offlineDraft(prompt string) Draft {
	return Draft{Text: truncateRunes(prompt, maxDraftLen), Platforms: []string{"twitter"}}
}

// truncateRunes shortens s to at most max characters. The platform limit is
// characters, not bytes, so a byte slice would both overcount multi-byte
// text and cut mid-rune.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func (pl *Planner) planRemote(ctx context.Context, prompt string) (Draft, error) {
	body, err := json.Marshal(map[string]any{
		"model": pl.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You write short social media posts. Reply with the post text only, at most 280 characters."},
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return Draft{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatCompletionsURL, bytes.NewReader(body))
	if err != nil {
		return Draft{}, err
	}
	req.Header.Set("Authorization", "Bearer "+pl.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := pl.client.Do(req)
	if err != nil {
		return Draft{}, fmt.Errorf("planner: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Draft{}, fmt.Errorf("planner: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Draft{}, fmt.Errorf("planner: status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Draft{}, fmt.Errorf("planner: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Draft{}, errors.New("planner: empty completion")
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	pl.log.Debug("planner draft", logx.Int("len", len(text)))
	return Draft{Text: text, Platforms: []string{"twitter"}}, nil
}

// bannedWords are rejected outright. Kept deliberately small; this is a
// seatbelt against obvious prompt mishaps, not a moderation system.
var bannedWords = []string{"guaranteed returns", "click here now", "act now"}

// Validate reports every problem with the draft; an empty slice means it is
// ready to schedule.
func Validate(d Draft) []error {
	var errs []error
	text := strings.TrimSpace(d.Text)
	if text == "" {
		errs = append(errs, errors.New("draft text is empty"))
	}
	if n := utf8.RuneCountInString(d.Text); n > maxDraftLen {
		errs = append(errs, fmt.Errorf("draft text is %d chars, max %d", n, maxDraftLen))
	}
	lower := strings.ToLower(d.Text)
	for _, w := range bannedWords {
		if strings.Contains(lower, w) {
			errs = append(errs, fmt.Errorf("draft contains banned phrase %q", w))
		}
	}
	return errs
}
