// Package vote implements pending-proposal reconciliation and rationale commits
// against a GitHub repository laid out as vote-context/<year>/<proposal>/.
package vote

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/votecontext/github"
)

// Proposal is a governance item awaiting a rationale.
type Proposal struct {
	Year   string `json:"year"`
	Name   string `json:"name"`
	Suffix string `json:"suffix"`
}

// Submission is a rationale to commit for one proposal.
type Submission struct {
	Organization string `json:"org"`
	Repository   string `json:"repo"`
	Year         string `json:"year"`
	ProposalName string `json:"proposalName"`
	Rationale    string `json:"rationale"`
}

// CommitResult describes a persisted rationale.
type CommitResult struct {
	Path       string `json:"path"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	ContentSHA string `json:"content_sha,omitempty"`
	Created    bool   `json:"created"`
}

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// IsYear reports whether name is a four-digit year directory name.
func IsYear(name string) bool {
	return yearPattern.MatchString(name)
}

// ProposalSuffix extracts the second underscore-delimited segment of a
// proposal directory name.
func ProposalSuffix(name string) (string, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}

// Validate checks the fields that end up in the target path. The rationale
// text itself is not inspected.
func (s Submission) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"org", s.Organization},
		{"repo", s.Repository},
		{"proposalName", s.ProposalName},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidSubmission, f.name)
		}
		if strings.Contains(f.value, "/") || strings.Contains(f.value, "..") {
			return fmt.Errorf("%w: %s contains a path separator", ErrInvalidSubmission, f.name)
		}
	}
	if _, ok := ProposalSuffix(s.ProposalName); !ok {
		return fmt.Errorf("%w: proposalName must have the form <name>_<suffix>", ErrInvalidSubmission)
	}
	if !IsYear(s.Year) {
		return fmt.Errorf("%w: year must be four digits", ErrInvalidSubmission)
	}
	return nil
}

// ContentsReader is the read path of the remote file host.
type ContentsReader interface {
	ListDir(ctx context.Context, owner, repo, path string) ([]github.Entry, error)
	GetRaw(ctx context.Context, owner, repo, path string) (string, error)
}

// ContentsWriter is the write path of the remote file host.
type ContentsWriter interface {
	HasToken() bool
	GetFile(ctx context.Context, owner, repo, path string) (*github.File, error)
	PutFile(ctx context.Context, owner, repo string, req github.PutFileRequest) (*github.PutFileResult, error)
}

// Recorder receives reconciliation and commit outcomes, typically for metrics.
type Recorder interface {
	FetchFailed(stage string)
	PendingComputed(count int)
	CommitFinished(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) FetchFailed(string)    {}
func (nopRecorder) PendingComputed(int)   {}
func (nopRecorder) CommitFinished(string) {}

// expand substitutes {year} and {proposal} placeholders.
func expand(template, year, proposal string) string {
	return strings.NewReplacer("{year}", year, "{proposal}", proposal).Replace(template)
}
