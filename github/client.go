// Package github provides a typed client for the GitHub Contents API.
// It covers the read path (directory listings, raw file fetches, file metadata)
// and the single write path used to commit rationale files.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// EntryType is the kind of a directory entry.
type EntryType string

const (
	EntryTypeDir     EntryType = "dir"
	EntryTypeFile    EntryType = "file"
	EntryTypeSymlink EntryType = "symlink"
	EntryTypeSubmod  EntryType = "submodule"
)

// Entry is a single item in a directory listing.
type Entry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	SHA  string    `json:"sha"`
	Type EntryType `json:"type"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == EntryTypeDir
}

// File is a repository file with its decoded content and blob sha.
type File struct {
	Name    string
	Path    string
	SHA     string
	Size    int
	Content []byte
}

// PutFileRequest describes a create-or-update write.
type PutFileRequest struct {
	Path    string
	Message string
	Content []byte

	// SHA is the blob sha of the file being replaced. Empty creates the file.
	SHA string

	// Branch targets a non-default branch when set.
	Branch string
}

// PutFileResult reports the outcome of a successful write.
type PutFileResult struct {
	Path       string `json:"path"`
	ContentSHA string `json:"content_sha"`
	CommitSHA  string `json:"commit_sha"`
	Created    bool   `json:"created"`
}

// Client talks to the GitHub Contents API through go-github.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	repos *gh.RepositoriesService
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API root (GitHub Enterprise, tests).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithToken sets the static credential sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Contents API client. An unparsable base URL falls back
// to DefaultBaseURL with a warning.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: "votecontext",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	api := gh.NewClient(c.httpClient)
	if c.token != "" {
		api = api.WithAuthToken(c.token)
	}
	api.UserAgent = c.userAgent

	// go-github resolves paths relative to BaseURL, which must end in a slash.
	base, err := url.Parse(strings.TrimSuffix(c.baseURL, "/") + "/")
	if err != nil {
		c.logger.Warn("Invalid GitHub API URL, using default", "url", c.baseURL, "error", err)
		base, _ = url.Parse(DefaultBaseURL + "/")
	}
	api.BaseURL = base

	c.repos = api.Repositories
	return c
}

// HasToken reports whether a write credential is configured.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// ListDir returns the entries of the directory at path.
func (c *Client) ListDir(ctx context.Context, owner, repo, path string) ([]Entry, error) {
	file, dir, err := c.getContents(ctx, owner, repo, path)
	if err != nil {
		return nil, err
	}

	// A file path yields an object instead of an array.
	if file != nil {
		return nil, fmt.Errorf("list %s: expected directory listing", path)
	}

	entries := make([]Entry, 0, len(dir))
	for i, rc := range dir {
		if rc.GetName() == "" || rc.GetType() == "" {
			return nil, fmt.Errorf("decode listing %s: entry %d missing name or type", path, i)
		}
		entries = append(entries, Entry{
			Name: rc.GetName(),
			Path: rc.GetPath(),
			SHA:  rc.GetSHA(),
			Type: EntryType(rc.GetType()),
		})
	}

	return entries, nil
}

// GetRaw fetches the text content of the file at path.
func (c *Client) GetRaw(ctx context.Context, owner, repo, path string) (string, error) {
	f, err := c.GetFile(ctx, owner, repo, path)
	if err != nil {
		return "", err
	}
	return string(f.Content), nil
}

// GetFile fetches file metadata and content. A missing file returns an error
// matching ErrNotFound.
func (c *Client) GetFile(ctx context.Context, owner, repo, path string) (*File, error) {
	file, _, err := c.getContents(ctx, owner, repo, path)
	if err != nil {
		return nil, err
	}
	if file == nil || file.GetType() != string(EntryTypeFile) {
		return nil, fmt.Errorf("decode file %s: not a file", path)
	}
	if file.GetSHA() == "" {
		return nil, fmt.Errorf("decode file %s: missing sha", path)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode file %s content: %w", path, err)
	}

	return &File{
		Name:    file.GetName(),
		Path:    file.GetPath(),
		SHA:     file.GetSHA(),
		Size:    file.GetSize(),
		Content: []byte(content),
	}, nil
}

// PutFile creates or updates a file in a single request. When req.SHA does not
// match the current blob the host rejects the write with a 409.
func (c *Client) PutFile(ctx context.Context, owner, repo string, req PutFileRequest) (*PutFileResult, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("put file: path is required")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(req.Message),
		Content: req.Content,
	}
	if req.SHA != "" {
		opts.SHA = gh.Ptr(req.SHA)
	}
	if req.Branch != "" {
		opts.Branch = gh.Ptr(req.Branch)
	}

	c.logger.Debug("GitHub request", "method", http.MethodPut, "owner", owner, "repo", repo, "path", req.Path)

	var (
		res  *gh.RepositoryContentResponse
		resp *gh.Response
		err  error
	)
	if req.SHA == "" {
		res, resp, err = c.repos.CreateFile(ctx, owner, repo, cleanPath(req.Path), opts)
	} else {
		res, resp, err = c.repos.UpdateFile(ctx, owner, repo, cleanPath(req.Path), opts)
	}
	if err != nil {
		return nil, translateError(err)
	}

	result := &PutFileResult{
		Path:      req.Path,
		CommitSHA: res.Commit.GetSHA(),
		Created:   resp != nil && resp.StatusCode == http.StatusCreated,
	}
	if res.Content != nil {
		result.ContentSHA = res.Content.GetSHA()
		if p := res.Content.GetPath(); p != "" {
			result.Path = p
		}
	}

	c.logger.Debug("Committed file",
		"owner", owner,
		"repo", repo,
		"path", result.Path,
		"commit", result.CommitSHA,
		"created", result.Created)

	return result, nil
}

// getContents issues a contents GET and returns either a file or a listing.
func (c *Client) getContents(ctx context.Context, owner, repo, path string) (*gh.RepositoryContent, []*gh.RepositoryContent, error) {
	if owner == "" || repo == "" {
		return nil, nil, fmt.Errorf("owner and repo are required")
	}

	c.logger.Debug("GitHub request", "method", http.MethodGet, "owner", owner, "repo", repo, "path", path)

	file, dir, _, err := c.repos.GetContents(ctx, owner, repo, cleanPath(path), nil)
	if err != nil {
		return nil, nil, translateError(err)
	}
	return file, dir, nil
}

// cleanPath strips leading and trailing slashes so go-github builds
// /repos/{owner}/{repo}/contents/{path} without empty segments.
func cleanPath(p string) string {
	return strings.Trim(p, "/")
}
