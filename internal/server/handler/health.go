package handler

import (
	"context"
	"net/http"

	"github.com/garrettladley/hookd/internal/xhttp"
	"github.com/garrettladley/hookd/internal/xslog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Health struct {
	store Pinger
}

func NewHealth(store Pinger) *Health {
	return &Health{store: store}
}

// HandleHealth handles GET /health requests.
func (h *Health) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		xslog.FromContext(r.Context()).ErrorContext(r.Context(), "health check failed", xslog.Error(err))
		xhttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	xhttp.WriteOK(w, map[string]string{"status": "ok"})
}
