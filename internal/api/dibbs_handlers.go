package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
)

const maxDatePages = 100

// DateLister discovers solicitations on DIBBS by issue date.
type DateLister interface {
	AvailableDates(ctx context.Context) ([]string, error)
	NSNsByDate(ctx context.Context, date string, maxPages int) (dibbs.DateListings, error)
}

// DIBBSHandler exposes DIBBS issue-date discovery.
type DIBBSHandler struct {
	dates  DateLister
	logger *zap.Logger
}

// NewDIBBSHandler wires the lister and logger. A nil lister makes every route
// answer 503.
func NewDIBBSHandler(dates DateLister, logger *zap.Logger) *DIBBSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DIBBSHandler{dates: dates, logger: logger}
}

// ListDates handles GET /v1/dibbs/dates.
func (h *DIBBSHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	if h.dates == nil {
		writeError(w, http.StatusServiceUnavailable, "dibbs unavailable")
		return
	}
	dates, err := h.dates.AvailableDates(r.Context())
	if err != nil {
		h.logger.Error("List DIBBS dates failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load dibbs issue dates")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// GetDate handles GET /v1/dibbs/dates/{date}?max_pages=N. It returns the open
// listings and their NSNs, 400 for an unreadable date or page count.
func (h *DIBBSHandler) GetDate(w http.ResponseWriter, r *http.Request) {
	if h.dates == nil {
		writeError(w, http.StatusServiceUnavailable, "dibbs unavailable")
		return
	}
	maxPages, err := parseMaxPages(r.URL.Query().Get("max_pages"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	listings, err := h.dates.NSNsByDate(r.Context(), chi.URLParam(r, "date"), maxPages)
	switch {
	case errors.Is(err, dibbs.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("Load DIBBS listings failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load dibbs listings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings, "nsns": nonNil(listings.NSNs())})
}

func parseMaxPages(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxDatePages {
		return 0, errors.New("invalid max_pages")
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
