package vote

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/c360studio/votecontext/github"
	"golang.org/x/sync/errgroup"
)

// Options controls where the reconciler looks and how hard it works.
type Options struct {
	// ContextDir is the root holding one directory per year.
	ContextDir string `yaml:"context_dir" json:"context_dir"`

	// HistoryPath is the per-year voting history document; {year} is substituted.
	HistoryPath string `yaml:"history_path" json:"history_path"`

	// MinYear is used when a caller does not supply one.
	MinYear int `yaml:"min_year" json:"min_year"`

	// Concurrency bounds parallel year fetches. Values below 1 mean sequential.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// DefaultOptions returns the repository layout used by the governance repos.
func DefaultOptions() Options {
	return Options{
		ContextDir:  "vote-context",
		HistoryPath: "vote-context/{year}/Voting_History.md",
		MinYear:     2025,
		Concurrency: 4,
	}
}

// Reconciler computes which proposals still need a rationale.
type Reconciler struct {
	reader   ContentsReader
	opts     atomic.Pointer[Options]
	logger   *slog.Logger
	recorder Recorder
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerRecorder sets the outcome recorder.
func WithReconcilerRecorder(rec Recorder) ReconcilerOption {
	return func(r *Reconciler) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewReconciler creates a Reconciler reading through reader.
func NewReconciler(reader ContentsReader, opts Options, ropts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		reader:   reader,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	r.SetOptions(opts)

	for _, opt := range ropts {
		opt(r)
	}
	return r
}

// SetOptions swaps the options used by subsequent calls. Safe for concurrent use.
func (r *Reconciler) SetOptions(opts Options) {
	defaults := DefaultOptions()
	if opts.ContextDir == "" {
		opts.ContextDir = defaults.ContextDir
	}
	if opts.HistoryPath == "" {
		opts.HistoryPath = defaults.HistoryPath
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	r.opts.Store(&opts)
}

// Options returns the options currently in effect.
func (r *Reconciler) Options() Options {
	return *r.opts.Load()
}

// yearResult is one year's contribution, filled in by a worker.
type yearResult struct {
	markers    []string
	candidates []Proposal
}

// PendingProposals lists proposals in org/repo whose suffix has no vote marker.
// A minYear of zero or less uses the configured default.
//
// Failure to list the year directories yields an empty result. Failure to
// fetch one year's history or listing drops only that year's contribution.
// The result is ordered by descending year, then by listing order.
func (r *Reconciler) PendingProposals(ctx context.Context, org, repo string, minYear int) []Proposal {
	opts := r.Options()
	if minYear <= 0 {
		minYear = opts.MinYear
	}

	years, err := r.listYears(ctx, org, repo, opts.ContextDir, minYear)
	if err != nil {
		r.logger.Warn("Failed to list vote years",
			"org", org,
			"repo", repo,
			"dir", opts.ContextDir,
			"error", err)
		r.recorder.FetchFailed("years")
		r.recorder.PendingComputed(0)
		return []Proposal{}
	}

	results := make([]yearResult, len(years))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, year := range years {
		g.Go(func() error {
			results[i] = r.fetchYear(ctx, org, repo, year, opts)
			return nil
		})
	}
	_ = g.Wait()

	voted := make(map[string]struct{})
	for _, res := range results {
		for _, m := range res.markers {
			voted[m] = struct{}{}
		}
	}

	pending := []Proposal{}
	for _, res := range results {
		for _, p := range res.candidates {
			if _, done := voted[p.Suffix]; !done {
				pending = append(pending, p)
			}
		}
	}

	r.logger.Debug("Reconciled proposals",
		"org", org,
		"repo", repo,
		"years", len(years),
		"markers", len(voted),
		"pending", len(pending))
	r.recorder.PendingComputed(len(pending))

	return pending
}

// listYears returns year directory names >= minYear, newest first.
func (r *Reconciler) listYears(ctx context.Context, org, repo, dir string, minYear int) ([]string, error) {
	entries, err := r.reader.ListDir(ctx, org, repo, dir)
	if err != nil {
		return nil, err
	}

	type year struct {
		name  string
		value int
	}
	var kept []year
	for _, e := range entries {
		if !e.IsDir() || !IsYear(e.Name) {
			continue
		}
		v, err := strconv.Atoi(e.Name)
		if err != nil || v < minYear {
			continue
		}
		kept = append(kept, year{name: e.Name, value: v})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].value > kept[j].value
	})

	names := make([]string, len(kept))
	for i, y := range kept {
		names[i] = y.name
	}
	return names, nil
}

// fetchYear loads one year's markers and proposal candidates. Each half
// degrades to empty on failure.
func (r *Reconciler) fetchYear(ctx context.Context, org, repo, year string, opts Options) yearResult {
	var res yearResult

	historyPath := expand(opts.HistoryPath, year, "")
	doc, err := r.reader.GetRaw(ctx, org, repo, historyPath)
	if err != nil {
		r.logFetchFailure("history", org, repo, historyPath, err)
	} else {
		res.markers = ParseMarkers(doc)
	}

	yearDir := path.Join(opts.ContextDir, year)
	entries, err := r.reader.ListDir(ctx, org, repo, yearDir)
	if err != nil {
		r.logFetchFailure("proposals", org, repo, yearDir, err)
		return res
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		suffix, ok := ProposalSuffix(e.Name)
		if !ok {
			continue
		}
		res.candidates = append(res.candidates, Proposal{
			Year:   year,
			Name:   e.Name,
			Suffix: suffix,
		})
	}
	return res
}

func (r *Reconciler) logFetchFailure(stage, org, repo, p string, err error) {
	r.recorder.FetchFailed(stage)

	// A year without a history document yet is routine.
	if github.IsNotFound(err) {
		r.logger.Debug("Vote document not found",
			"stage", stage,
			"org", org,
			"repo", repo,
			"path", p)
		return
	}
	r.logger.Warn("Failed to fetch vote document",
		"stage", stage,
		"org", org,
		"repo", repo,
		"path", p,
		"error", err)
}
