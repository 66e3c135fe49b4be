package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
	"github.com/rayanical/dining-bot-publish/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 4 << 20
)

type Router struct {
	cfg     config.Config
	chat    ports.ChatService
	catalog ports.CatalogService
	ingest  ports.MenuIngestService
	metrics *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	chat ports.ChatService,
	catalog ports.CatalogService,
	ingest ports.MenuIngestService,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:     cfg,
		chat:    chat,
		catalog: catalog,
		ingest:  ingest,
		metrics: httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat", rt.chatHandler)
	mux.HandleFunc("/v1/catalog", rt.catalogInfo)
	mux.HandleFunc("/v1/catalog/refresh", rt.refreshCatalog)
	mux.HandleFunc("/v1/menu/items", rt.ingestMenu)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"catalog_generation": rt.catalog.Info().Generation,
	})
}

type chatRequestBody struct {
	domain.ChatRequest
	Query string `json:"query,omitempty"`
}

func (rt *Router) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body chatRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	req := body.ChatRequest
	if query := strings.TrimSpace(body.Query); query != "" {
		req.Messages = append(req.Messages, domain.ConversationTurn{Role: domain.RoleUser, Content: query})
	}

	start := time.Now()
	stream, err := rt.chat.Answer(r.Context(), req)
	if err != nil {
		rt.recordGeneration("error", 0)
		if mapErrorToHTTPStatus(err) < http.StatusInternalServerError {
			writeError(w, r, err)
			return
		}
		// Upstream failures end the stream like a failure mid-answer.
		rt.streamFailure(w, r, err)
		return
	}
	defer stream.Close()

	result := stream.Result()
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "/v1/chat", result, time.Since(start))
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := sse.event("meta", chatMeta(result)); err != nil {
		return
	}

	chars := 0
	for {
		chunk, err := stream.Next(r.Context())
		if errors.Is(err, io.EOF) {
			rt.recordGeneration("done", chars)
			_ = sse.event("done", map[string]any{"completion_chars": chars})
			return
		}
		if err != nil {
			outcome := "error"
			if r.Context().Err() != nil {
				outcome = "cancelled"
			}
			rt.recordGeneration(outcome, chars)
			slog.Warn("chat_stream_failed",
				"request_id", requestIDFromContext(r.Context()),
				"completion_chars", chars,
				"error", err,
			)
			_ = sse.event("error", map[string]string{"error": publicErrorMessage(err)})
			return
		}
		chars += len(chunk)
		if err := sse.event("delta", map[string]string{"text": chunk}); err != nil {
			rt.recordGeneration("cancelled", chars)
			return
		}
	}
}

func (rt *Router) streamFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("chat_answer_failed",
		"request_id", requestIDFromContext(r.Context()),
		"error", err,
	)
	sse, sseErr := newSSEWriter(w)
	if sseErr != nil {
		writeError(w, r, err)
		return
	}
	_ = sse.event("error", map[string]string{"error": publicErrorMessage(err)})
}

func chatMeta(result *domain.RetrievalResult) map[string]any {
	if result == nil {
		return map[string]any{}
	}
	return map[string]any{
		"intent":              result.Intent.Kind,
		"intent_source":       result.Intent.Source,
		"candidates":          len(result.Candidates),
		"structured_count":    result.StructuredCount,
		"semantic_count":      result.SemanticCount,
		"catalog_generation":  result.Generation,
		"validation_fallback": result.ValidationFallback,
	}
}

func (rt *Router) recordGeneration(outcome string, chars int) {
	if rt.metrics != nil {
		rt.metrics.RecordGeneration(serviceName, "/v1/chat", outcome, chars)
	}
}

func (rt *Router) catalogInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.catalog.Info())
}

func (rt *Router) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	queued, info, err := rt.catalog.RequestRefresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil && !queued {
		rt.metrics.SetCatalogGeneration(info.Generation)
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"queued": queued, "catalog": info})
}

func (rt *Router) ingestMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.ingest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu ingest is disabled"})
		return
	}

	var payload []menuItemPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected a json array of menu items"})
		return
	}
	items := make([]domain.MenuItem, 0, len(payload))
	for i, row := range payload {
		item, err := row.toMenuItem()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("item %d: %v", i, err)})
			return
		}
		items = append(items, item)
	}

	result, err := rt.ingest.Ingest(r.Context(), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// menuItemPayload accepts serving_date as YYYY-MM-DD or RFC 3339.
type menuItemPayload struct {
	domain.MenuItem
	ServingDate string `json:"serving_date"`
}

func (p menuItemPayload) toMenuItem() (domain.MenuItem, error) {
	item := p.MenuItem
	raw := strings.TrimSpace(p.ServingDate)
	if raw == "" {
		return item, nil
	}
	date, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		date, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.MenuItem{}, fmt.Errorf("serving_date %q is not a date", raw)
		}
	}
	item.ServingDate = domain.DateOnly(date)
	return item, nil
}

func decodeJSONBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return dec.Decode(out)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
