package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

// MisconfiguredMessage is returned when no write token is configured.
const MisconfiguredMessage = "GitHub Personal Access Token not configured on server."

// CommitRequest is the body of POST /api/commit-rationale.
type CommitRequest struct {
	Organization string `json:"org"`
	Repository   string `json:"repo"`
	Year         Year   `json:"year"`
	ProposalName string `json:"proposalName"`
	Rationale    string `json:"rationale"`
}

// CommitResponse is the success body of POST /api/commit-rationale.
type CommitResponse struct {
	Success   bool   `json:"success"`
	Path      string `json:"path"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Created   bool   `json:"created"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

// Year accepts a JSON string or integer.
type Year string

// UnmarshalJSON implements json.Unmarshaler.
func (y *Year) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*y = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*y = Year(s)
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("year must be a string or integer")
	}
	*y = Year(strconv.Itoa(n))
	return nil
}

// handleCommitRationale commits a rationale file for one proposal.
func (h *Handler) handleCommitRationale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if !h.committer.Configured() {
		h.logger.Error("Commit requested but no write token is configured")
		writeError(w, http.StatusInternalServerError, MisconfiguredMessage)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub := vote.Submission{
		Organization: req.Organization,
		Repository:   req.Repository,
		Year:         string(req.Year),
		ProposalName: req.ProposalName,
		Rationale:    req.Rationale,
	}

	res, err := h.committer.Commit(r.Context(), sub)
	if err != nil {
		var uwe *vote.UpstreamWriteError
		switch {
		case errors.As(err, &uwe):
			writeError(w, http.StatusBadRequest, uwe.UpstreamMessage())
		case errors.Is(err, vote.ErrInvalidSubmission):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, vote.ErrServerMisconfigured):
			writeError(w, http.StatusInternalServerError, MisconfiguredMessage)
		default:
			h.logger.Error("Commit failed", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, vote.GenericCommitFailure)
		}
		return
	}

	resp := CommitResponse{
		Success:   true,
		Path:      res.Path,
		CommitSHA: res.CommitSHA,
		Created:   res.Created,
	}

	if h.store != nil {
		id, err := h.store.RecordCommit(r.Context(), &storage.CommitRecord{
			UserID:       user.ID,
			Organization: sub.Organization,
			Repository:   sub.Repository,
			Year:         sub.Year,
			ProposalName: sub.ProposalName,
			Path:         res.Path,
			CommitSHA:    res.CommitSHA,
		})
		if err != nil {
			// The commit already landed; a missing receipt is not a failure.
			h.logger.Warn("Failed to record commit receipt", "path", res.Path, "error", err)
		} else {
			resp.ReceiptID = id
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCommits lists the caller's commit receipts.
func (h *Handler) handleCommits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
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

	records, err := h.store.ListCommitsByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to list commit receipts", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list commits")
		return
	}
	if records == nil {
		records = []*storage.CommitRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}
