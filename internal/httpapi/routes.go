package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"postpilot/internal/planner"
	"postpilot/internal/store"
	"postpilot/internal/token"
	logx "postpilot/pkg/logx"
)

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/posts/schedule", s.withAuth(s.handleSchedule))
	mux.HandleFunc("GET /api/posts", s.withAuth(s.handleListPosts))
	mux.HandleFunc("POST /api/posts/plan", s.withAuth(s.handlePlan))
	mux.HandleFunc("POST /api/posts/{id}/execute", s.withAuth(s.handleExecute))

	mux.HandleFunc("GET /api/tokens", s.withAuth(s.handleListTokens))
	mux.HandleFunc("PUT /api/tokens/{platform}", s.withAuth(s.handleUpsertToken))

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	health := s.health
	s.mu.Unlock()

	body := map[string]any{"status": "ok"}
	if health != nil {
		body["components"] = health()
	}
	writeJSON(w, http.StatusOK, body)
}

type scheduleRequest struct {
	Text      string   `json:"text"`
	Media     []string `json:"media,omitempty"`
	Platforms []string `json:"platforms"`
	At        int64    `json:"at"` // epoch ms; 0 = now
}

func (s *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeErr(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if len(req.Platforms) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("platforms is required"))
		return
	}
	at := req.At
	if at == 0 {
		at = time.Now().UnixMilli()
	}

	p := store.Post{
		Text:        req.Text,
		Media:       req.Media,
		Platforms:   req.Platforms,
		Status:      store.StatusScheduled,
		ScheduledAt: at,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.st.CreatePost(r.Context(), &p); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("post scheduled via api", logx.String("post", p.ID), logx.Int64("at", at))
	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.st.ListPosts(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res := s.exec.Execute(r.Context(), id)
	if res.Err != nil {
		code := http.StatusBadGateway
		if errors.Is(res.Err, store.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeErr(w, code, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	draft, err := s.plan.Plan(r.Context(), req.Prompt)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	var problems []string
	for _, e := range planner.Validate(draft) {
		problems = append(problems, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": draft, "problems": problems})
}

// tokenView is the redacted wire form of a stored token.
type tokenView struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	HasRefresh  bool   `json:"has_refresh"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	AccessToken string `json:"access_token"` // redacted
}

func redactToken(t store.Token) tokenView {
	v := tokenView{
		ID:         t.ID,
		Platform:   t.Platform,
		HasRefresh: t.RefreshToken != "",
		ExpiresAt:  t.ExpiresAt,
	}
	if n := len(t.AccessToken); n > 8 {
		v.AccessToken = t.AccessToken[:4] + "..." + t.AccessToken[n-4:]
	} else if n > 0 {
		v.AccessToken = "..."
	}
	return v
}

func (s *Service) handleListTokens(w http.ResponseWriter, r *http.Request) {
	toks, err := s.st.ListTokens(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]tokenView, 0, len(toks))
	for _, t := range toks {
		views = append(views, redactToken(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": views})
}

type upsertTokenRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

func (s *Service) handleUpsertToken(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	var req upsertTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.AccessToken == "" {
		writeErr(w, http.StatusBadRequest, errors.New("access_token is required"))
		return
	}
	rec, err := s.tokens.Upsert(r.Context(), platform, token.Credential{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, redactToken(rec))
}
