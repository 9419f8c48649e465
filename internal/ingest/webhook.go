// Package ingest accepts messages over HTTP and queues them in the spool.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"agentrelay/internal/domain"
)

// Enqueuer is the part of the spool the webhook needs.
type Enqueuer interface {
	Enqueue(msg *domain.Message) (string, error)
}

// WebhookConfig configures the ingest webhook.
type WebhookConfig struct {
	Listen string // host:port
	Path   string // URL path (default: /messages)
	Secret string // HMAC secret for verifying request signatures
	Sender string // used when the payload has no "from"
	Queue  Enqueuer
	Logger *slog.Logger
}

// Webhook accepts POSTed messages and hands them to the spool.
type Webhook struct {
	listen string
	path   string
	secret string
	sender string
	queue  Enqueuer
	logger *slog.Logger
	server *http.Server
}

// Payload is the expected JSON body. To takes one recipient or a
// comma-separated list.
//
// ID is optional. When set, the message ID is ID for a single recipient and
// ID.<recipient> for each of several, so a client resending the same request
// gets the router's duplicate suppression instead of a second delivery.
type Payload struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Hint     string `json:"hint"`
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// NewWebhook creates a webhook handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/messages"
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9465"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		listen: cfg.Listen,
		path:   cfg.Path,
		secret: cfg.Secret,
		sender: cfg.Sender,
		queue:  cfg.Queue,
		logger: cfg.Logger,
	}
}

// Handler returns the HTTP handler serving the webhook path.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	return mux
}

// Start serves the webhook until ctx is done.
func (w *Webhook) Start(ctx context.Context) error {
	if w.queue == nil {
		return fmt.Errorf("ingest webhook: no queue")
	}
	w.server = &http.Server{
		Addr:              w.listen,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("ingest webhook starting", "addr", w.listen, "path", w.path, "signed", w.secret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("ingest webhook shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("ingest webhook: %w", err)
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.ID != "" && !validID.MatchString(payload.ID) {
		http.Error(rw, "Invalid id", http.StatusBadRequest)
		return
	}
	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}
	var recipients []string
	for _, to := range strings.Split(payload.To, ",") {
		if to = strings.TrimSpace(to); to != "" {
			recipients = append(recipients, to)
		}
	}
	if len(recipients) == 0 {
		http.Error(rw, "Recipient is required", http.StatusBadRequest)
		return
	}
	priority, err := domain.ParsePriority(payload.Priority)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	hint, err := domain.ParseHint(payload.Hint)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	sender := payload.From
	if sender == "" {
		sender = w.sender
	}

	ids := make([]string, 0, len(recipients))
	var failed []string
	for _, to := range recipients {
		msg := domain.NewMessage(sender, to, payload.Content, priority, hint)
		switch {
		case payload.ID != "" && len(recipients) == 1:
			msg.ID = payload.ID
		case payload.ID != "":
			msg.ID = payload.ID + "." + to
		}
		if _, err := w.queue.Enqueue(msg); err != nil {
			w.logger.Error("ingest enqueue failed", "recipient", to, "id", msg.ID, "err", err)
			failed = append(failed, to)
			continue
		}
		ids = append(ids, msg.ID)
	}
	if len(ids) == 0 {
		http.Error(rw, "Queue unavailable", http.StatusInternalServerError)
		return
	}

	w.logger.Info("ingest accepted",
		"from", sender,
		"recipients", len(ids),
		"failed", len(failed),
		"content_len", len(payload.Content),
	)

	resp := map[string]any{"status": "accepted", "ids": ids}
	code := http.StatusAccepted
	if len(failed) > 0 {
		resp["status"] = "partial"
		resp["failed"] = failed
		code = http.StatusMultiStatus
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(resp)
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
