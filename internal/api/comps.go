package api

import (
	"errors"
	"net/http"

	"github.com/goodtune/comptrack/internal/comp"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// compHandler serves the COMP ledger routes.
type compHandler struct {
	comps    *comp.Service
	resolver *opday.Resolver
	logger   zerolog.Logger
}

// Create records a new comp issued by the signed-in manager.
func (h *compHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req comp.NewComp
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IssuedBy = sessionFromContext(ctx).User.ID

	c, err := h.comps.Record(ctx, req)
	if err != nil {
		if errors.Is(err, comp.ErrInvalidComp) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to record comp")
		writeError(w, http.StatusInternalServerError, "Failed to record comp")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// List returns the comps of an operational day, the current one by default.
func (h *compHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	day := h.resolver.Current()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := opday.ParseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Parameter day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	comps, err := h.comps.ListDay(ctx, day)
	if err != nil {
		h.logger.Error().Err(err).Str("day", day.String()).Msg("Failed to list comps")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve comps")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":   day,
		"label": opday.FormatRange(day),
		"comps": comps,
		"count": len(comps),
	})
}

// Get returns a comp by ID.
func (h *compHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.comps.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Comp not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to get comp")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve comp")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Delete removes a comp and reverses its day totals.
func (h *compHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.comps.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Comp not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete comp")
		writeError(w, http.StatusInternalServerError, "Failed to delete comp")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ListDays returns the operational days that have comps, newest first.
func (h *compHandler) ListDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.comps.ListDays(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list days")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve days")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  days,
		"count": len(days),
	})
}

// Summary returns the closing totals of a day.
func (h *compHandler) Summary(w http.ResponseWriter, r *http.Request) {
	day, err := opday.ParseDay(mux.Vars(r)["day"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Day must be YYYY-MM-DD")
		return
	}

	h.writeSummary(w, r, day)
}

// Today returns the closing totals of the current operational day.
func (h *compHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.writeSummary(w, r, h.resolver.Current())
}

func (h *compHandler) writeSummary(w http.ResponseWriter, r *http.Request, day opday.Day) {
	sum, err := h.comps.Summary(r.Context(), day)
	if err != nil {
		h.logger.Error().Err(err).Str("day", day.String()).Msg("Failed to build summary")
		writeError(w, http.StatusInternalServerError, "Failed to build summary")
		return
	}

	writeJSON(w, http.StatusOK, sum)
}
