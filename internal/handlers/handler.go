package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/confide/internal/render"
	"github.com/eldtechnologies/confide/internal/store"
)

// TimestampLayout is the format stamped onto every submitted message.
const TimestampLayout = "02/01/2006 15:04:05"

// Renderer writes a named page with a status code.
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, data any) error
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store    store.MessageStore
	Redis    *store.RedisStore // optional
	Renderer Renderer
	Logger   zerolog.Logger
	Location *time.Location   // zone used for submission timestamps
	Now      func() time.Time // defaults to time.Now
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.MessageStore
	redis  *store.RedisStore
	render Renderer
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:  d.Store,
		redis:  d.Redis,
		render: d.Renderer,
		logger: d.Logger,
		loc:    d.Location,
		now:    d.Now,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// timestamp returns the current time formatted for storage.
func (h *Handler) timestamp() string {
	return h.now().In(h.loc).Format(TimestampLayout)
}

// page renders name, falling back to a plain 500 when rendering itself fails.
func (h *Handler) page(w http.ResponseWriter, status int, name string, data any) {
	if err := h.render.Render(w, status, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("template render failed")
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
	}
}

// serverError responds with the generic error page. Details stay in the log.
func (h *Handler) serverError(w http.ResponseWriter) {
	h.page(w, http.StatusInternalServerError, render.PageError, nil)
}
