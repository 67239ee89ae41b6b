package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rss_reader/internal/model"
	"rss_reader/internal/query"
	"rss_reader/internal/sources"
	"rss_reader/internal/storage"
)

const maxBodyBytes = 1 << 20

type handler struct {
	deps *Deps
	log  *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type ruleResponse struct {
	ID         int64     `json:"id"`
	TriggerURL string    `json:"trigger_url"`
	Enabled    bool      `json:"enabled"`
	Block      bool      `json:"block"`
	Trust      bool      `json:"trust"`
	AutoTag    string    `json:"auto_tag"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
}

type pendingRequest struct {
	URLs []string `json:"urls"`
}

type bookmarkRequest struct {
	Bookmarked bool `json:"bookmarked"`
}

type sourceSettingsRequest struct {
	Enabled         *bool   `json:"enabled"`
	XPath           *string `json:"xpath"`
	FetchPeriod     *int    `json:"fetch_period"`
	RemoveAfterDays *int    `json:"remove_after_days"`
	AutoTag         *string `json:"auto_tag"`
}

type healthResponse struct {
	Status       string    `json:"status"`
	LastProgress time.Time `json:"last_progress"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps a service error to a response.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.log.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// paging reads limit and offset. A page parameter, when present,
// takes precedence over offset.
func paging(r *http.Request) (limit, offset int, err error) {
	v := r.URL.Query()
	if limit, err = intParam(v.Get("limit")); err != nil {
		return 0, 0, errors.New("invalid limit")
	}
	if offset, err = intParam(v.Get("offset")); err != nil {
		return 0, 0, errors.New("invalid offset")
	}
	if p := v.Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, errors.New("invalid page")
		}
		offset = query.PageOffset(page, limit)
	}
	return limit, offset, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func boolParam(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	hb := h.deps.Heartbeat
	if hb == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	resp := healthResponse{Status: "ok", LastProgress: hb.LastProgress().UTC()}
	if h.deps.StaleAfter > 0 && hb.Stale(h.deps.StaleAfter) {
		resp.Status = "stale"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Queries.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// enqueue accepts {"urls": [...]}.
func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var urls []string
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no urls")
		return
	}
	n, err := h.deps.Queue.Enqueue(urls...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
}

func (h *handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.deps.Rules.Rules(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rl := range rules {
		out = append(out, ruleResponse{
			ID:         rl.ID,
			TriggerURL: rl.TriggerURL,
			Enabled:    rl.Enabled,
			Block:      rl.Block,
			Trust:      rl.Trust,
			AutoTag:    rl.AutoTag,
			Priority:   rl.Priority,
			CreatedAt:  rl.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// replaceRules takes a newline-delimited list of trigger URLs.
func (h *handler) replaceRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.deps.Rules.ReplaceRules(r.Context(), string(body))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rules": n})
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q, ok := h.entryQuery(w, r)
	if !ok {
		return
	}
	if s := r.URL.Query().Get("source_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid source_id")
			return
		}
		q.SourceID = id
	}
	h.writeEntries(w, r, q)
}

func (h *handler) listSourceEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := h.deps.Queries.Source(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	q, ok := h.entryQuery(w, r)
	if !ok {
		return
	}
	q.SourceID = id
	h.writeEntries(w, r, q)
}

func (h *handler) entryQuery(w http.ResponseWriter, r *http.Request) (model.EntryQuery, bool) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.EntryQuery{}, false
	}
	return model.EntryQuery{Search: r.URL.Query().Get("q"), Limit: limit, Offset: offset}, true
}

func (h *handler) writeEntries(w http.ResponseWriter, r *http.Request, q model.EntryQuery) {
	page, err := h.deps.Queries.Entries(r.Context(), q, boolParam(r.URL.Query().Get("with_source")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	e, err := h.deps.Queries.Entry(r.Context(), id, boolParam(r.URL.Query().Get("with_source")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.deps.Entries.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) bookmarkEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req bookmarkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.deps.Entries.SetBookmarked(r.Context(), id, req.Bookmarked); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.deps.Queries.Entry(r.Context(), id, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) listSources(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.deps.Queries.Sources(r.Context(), model.SourceQuery{
		Search: r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) getSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	src, err := h.deps.Queries.Source(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// configureSource applies the fields present in the body and returns the
// updated source.
func (h *handler) configureSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req sourceSettingsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, err := h.deps.Sources.Configure(r.Context(), id, sources.Settings{
		Enabled:         req.Enabled,
		XPath:           req.XPath,
		FetchPeriod:     req.FetchPeriod,
		RemoveAfterDays: req.RemoveAfterDays,
		AutoTag:         req.AutoTag,
	})
	if errors.Is(err, sources.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := h.deps.Queries.Source(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *handler) deleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.deps.Sources.Remove(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
