package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/confide/internal/metrics"
	"github.com/eldtechnologies/confide/internal/models"
	"github.com/eldtechnologies/confide/internal/render"
)

const listingPrefix = "/messages/"

// messagesPage is the data passed to the listing template.
type messagesPage struct {
	Messages []models.Message
}

// Home renders the submission form.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.page(w, http.StatusOK, render.PageIndex, map[string]any{"Title": "Confide"})
}

// Submit stores the posted message and sends the client back to the form.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	values, ok := r.PostForm["message"]
	if !ok {
		http.Error(w, "missing field: message", http.StatusBadRequest)
		return
	}
	text := values[0]
	ts := h.timestamp()

	if err := h.store.Insert(r.Context(), ts, text); err != nil {
		h.logger.Error().Err(err).Str("op", "insert").Msg("failed to store message")
		h.serverError(w)
		return
	}

	metrics.MessagesSubmitted.Inc()
	h.logger.Info().Str("timestamp", ts).Int("length", len(text)).Msg("message stored")

	http.Redirect(w, r, "/", http.StatusFound)
}

// ListMessages renders every stored message. Access is decided before this
// handler runs.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.FetchAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("op", "fetch_all").Msg("failed to fetch messages")
		h.serverError(w)
		return
	}

	h.logger.Debug().Int("count", len(messages)).Msg("messages fetched")
	h.page(w, http.StatusOK, render.PageMessages, messagesPage{Messages: messages})
}

// DeleteMessage removes one message by id and returns to the listing.
// The response is the same whether or not the id existed.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.NotFound(w, r)
		return
	}

	h.logger.Info().Int64("id", id).Msg("deleting message")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("op", "delete").Int64("id", id).Msg("failed to delete message")
		h.serverError(w)
		return
	}

	metrics.MessagesDeleted.Inc()
	http.Redirect(w, r, listingReturnPath(r), http.StatusFound)
}

// NotFound handles every unmatched route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("no route matched")
	h.page(w, http.StatusNotFound, render.PageNotFound, nil)
}

// listingReturnPath picks the listing page a delete was issued from, using the
// Referer when it points at this host's listing route, and "/" otherwise.
func listingReturnPath(r *http.Request) string {
	ref := r.Referer()
	if ref == "" {
		return "/"
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "/"
	}
	if u.Host != "" && u.Host != r.Host {
		return "/"
	}
	if !strings.HasPrefix(u.Path, listingPrefix) || len(u.Path) == len(listingPrefix) {
		return "/"
	}
	return u.Path
}
