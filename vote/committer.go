package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/c360studio/votecontext/github"
)

// CommitOptions controls where and how rationale files are written.
type CommitOptions struct {
	// ContextDir is the root holding one directory per year.
	ContextDir string `yaml:"context_dir" json:"context_dir"`

	// FileName is the rationale file inside the proposal directory. The
	// default keeps the historical "Vote_Context.jsonId" name that existing
	// repositories already contain.
	FileName string `yaml:"file_name" json:"file_name"`

	// MessageTemplate is the commit message; {proposal} and {year} are substituted.
	MessageTemplate string `yaml:"message" json:"message"`

	// Branch targets a non-default branch when set.
	Branch string `yaml:"branch" json:"branch"`

	// WriteTimeout bounds the PUT. Once issued, the write is not tied to the
	// caller's context.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultCommitOptions returns the layout expected by the governance repos.
func DefaultCommitOptions() CommitOptions {
	return CommitOptions{
		ContextDir:      "vote-context",
		FileName:        "Vote_Context.jsonId",
		MessageTemplate: "Add rationale for {proposal} ({year})",
		WriteTimeout:    30 * time.Second,
	}
}

// Commit outcomes reported to the Recorder.
const (
	OutcomeSuccess       = "success"
	OutcomeConflict      = "conflict"
	OutcomeFailure       = "failure"
	OutcomeMisconfigured = "misconfigured"
	OutcomeInvalid       = "invalid"
)

// Committer persists rationale text as a single file per proposal.
type Committer struct {
	client   ContentsWriter
	opts     CommitOptions
	logger   *slog.Logger
	recorder Recorder
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithCommitterLogger sets the logger.
func WithCommitterLogger(logger *slog.Logger) CommitterOption {
	return func(c *Committer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCommitterRecorder sets the outcome recorder.
func WithCommitterRecorder(rec Recorder) CommitterOption {
	return func(c *Committer) {
		if rec != nil {
			c.recorder = rec
		}
	}
}

// NewCommitter creates a Committer writing through client.
func NewCommitter(client ContentsWriter, opts CommitOptions, copts ...CommitterOption) *Committer {
	defaults := DefaultCommitOptions()
	if opts.ContextDir == "" {
		opts.ContextDir = defaults.ContextDir
	}
	if opts.FileName == "" {
		opts.FileName = defaults.FileName
	}
	if opts.MessageTemplate == "" {
		opts.MessageTemplate = defaults.MessageTemplate
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	c := &Committer{
		client:   client,
		opts:     opts,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range copts {
		opt(c)
	}
	return c
}

// Configured reports whether a write credential is available.
func (c *Committer) Configured() bool {
	return c.client.HasToken()
}

// TargetPath returns the repository path of a proposal's rationale file.
func (c *Committer) TargetPath(year, proposalName string) string {
	return path.Join(c.opts.ContextDir, year, proposalName, c.opts.FileName)
}

// Commit creates or updates the rationale file for sub.
//
// The current blob sha is read first; a missing file is created. A sha that
// changes between the read and the write is rejected by the host and returned
// as an *UpstreamWriteError without retrying. Cancelling ctx stops the read;
// once the write is issued it runs to completion under WriteTimeout.
func (c *Committer) Commit(ctx context.Context, sub Submission) (*CommitResult, error) {
	if !c.client.HasToken() {
		c.recorder.CommitFinished(OutcomeMisconfigured)
		return nil, ErrServerMisconfigured
	}
	if err := sub.Validate(); err != nil {
		c.recorder.CommitFinished(OutcomeInvalid)
		return nil, err
	}

	target := c.TargetPath(sub.Year, sub.ProposalName)

	var sha string
	existing, err := c.client.GetFile(ctx, sub.Organization, sub.Repository, target)
	switch {
	case err == nil:
		sha = existing.SHA
	case github.IsNotFound(err):
		c.logger.Debug("Rationale file absent, creating", "path", target)
	default:
		c.recorder.CommitFinished(OutcomeFailure)
		c.logger.Warn("Failed to read existing rationale",
			"org", sub.Organization,
			"repo", sub.Repository,
			"path", target,
			"error", err)
		return nil, upstreamError("read", err)
	}

	if err := ctx.Err(); err != nil {
		c.recorder.CommitFinished(OutcomeFailure)
		return nil, upstreamError("write", fmt.Errorf("write not issued: %w", err))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WriteTimeout)
	defer cancel()

	res, err := c.client.PutFile(writeCtx, sub.Organization, sub.Repository, github.PutFileRequest{
		Path:    target,
		Message: expand(c.opts.MessageTemplate, sub.Year, sub.ProposalName),
		Content: []byte(sub.Rationale),
		SHA:     sha,
		Branch:  c.opts.Branch,
	})
	if err != nil {
		outcome := OutcomeFailure
		if github.IsConflict(err) {
			outcome = OutcomeConflict
		}
		c.recorder.CommitFinished(outcome)
		c.logger.Warn("Rationale commit rejected",
			"org", sub.Organization,
			"repo", sub.Repository,
			"path", target,
			"outcome", outcome,
			"error", err)
		return nil, upstreamError("write", err)
	}

	c.recorder.CommitFinished(OutcomeSuccess)
	c.logger.Info("Committed rationale",
		"org", sub.Organization,
		"repo", sub.Repository,
		"path", res.Path,
		"commit", res.CommitSHA,
		"created", res.Created)

	return &CommitResult{
		Path:       res.Path,
		CommitSHA:  res.CommitSHA,
		ContentSHA: res.ContentSHA,
		Created:    res.Created,
	}, nil
}

// upstreamError keeps the host's own message when the failure came from an
// API response; transport errors get the generic marker.
func upstreamError(stage string, err error) *UpstreamWriteError {
	uwe := &UpstreamWriteError{Stage: stage, Err: err}

	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		uwe.StatusCode = apiErr.StatusCode
		uwe.Message = apiErr.Message
	}
	return uwe
}
