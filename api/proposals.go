package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

// ProposalsResponse is the body of GET /api/proposals.
type ProposalsResponse struct {
	Organization string          `json:"org"`
	Repository   string          `json:"repo"`
	MinYear      int             `json:"min_year,omitempty"`
	Proposals    []vote.Proposal `json:"proposals"`
}

// PreferenceRequest is the body of PUT /api/preferences.
type PreferenceRequest struct {
	Organization string `json:"org"`
	Repository   string `json:"repo"`
	MinYear      int    `json:"min_year,omitempty"`
}

// handleProposals lists pending proposals. org and repo fall back to the
// caller's stored preference.
func (h *Handler) handleProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	org, repo := q.Get("org"), q.Get("repo")

	minYear := 0
	if s := q.Get("min_year"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "min_year must be a non-negative integer")
			return
		}
		minYear = n
	}

	if (org == "" || repo == "") && h.store != nil {
		pref, err := h.store.GetPreference(r.Context(), user.ID)
		switch {
		case err == nil:
			if org == "" && repo == "" {
				org, repo = pref.Organization, pref.Repository
			}
			if minYear == 0 {
				minYear = pref.MinYear
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			h.logger.Warn("Failed to load preference", "user_id", user.ID, "error", err)
		}
	}

	if org == "" || repo == "" {
		writeError(w, http.StatusBadRequest, "org and repo are required")
		return
	}

	proposals := h.reconciler.PendingProposals(r.Context(), org, repo, minYear)
	if proposals == nil {
		proposals = []vote.Proposal{}
	}

	writeJSON(w, http.StatusOK, ProposalsResponse{
		Organization: org,
		Repository:   repo,
		MinYear:      minYear,
		Proposals:    proposals,
	})
}

// handlePreferences reads, replaces or clears the caller's preference.
func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	switch r.Method {
	case http.MethodGet:
		pref, err := h.store.GetPreference(r.Context(), user.ID)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No preference stored")
			return
		}
		if err != nil {
			h.logger.Error("Failed to load preference", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load preference")
			return
		}
		writeJSON(w, http.StatusOK, pref)

	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req PreferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.MinYear < 0 {
			writeError(w, http.StatusBadRequest, "min_year must be a non-negative integer")
			return
		}

		pref := &storage.Preference{
			UserID:       user.ID,
			Organization: req.Organization,
			Repository:   req.Repository,
			MinYear:      req.MinYear,
		}
		if err := h.store.PutPreference(r.Context(), pref); err != nil {
			if errors.Is(err, storage.ErrInvalidRecord) {
				writeError(w, http.StatusBadRequest, "org and repo are required")
				return
			}
			h.logger.Error("Failed to store preference", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to store preference")
			return
		}
		writeJSON(w, http.StatusOK, pref)

	case http.MethodDelete:
		if err := h.store.DeletePreference(r.Context(), user.ID); err != nil {
			h.logger.Error("Failed to delete preference", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to delete preference")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
