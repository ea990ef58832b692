// Package githubtest provides an in-memory fake of the GitHub Contents API
// for tests. It serves directory listings, raw and JSON file reads, and
// create-or-update writes with blob-sha optimistic concurrency.
//
// Usage:
//
//	srv := githubtest.NewServer(t)
//	srv.AddFile("org", "repo", "vote-context/2025/Voting_History.md", history)
//	srv.AddDir("org", "repo", "vote-context/2025/proposal_9999")
//	client := github.NewClient(github.WithBaseURL(srv.URL), github.WithToken("pat"))
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Request records a call made against the fake.
type Request struct {
	Method string
	Path   string
}

// Server is a fake GitHub Contents API.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	files     map[string]string // "owner/repo/path" -> content
	dirs      map[string]bool   // "owner/repo/path" -> explicit (possibly empty) dir
	failures  map[string]failure
	requests  []Request
	commitSeq int
	token      string
	afterRead  func(owner, repo, filePath string)
	writeDelay time.Duration
}

// failure is a forced response for one path.
type failure struct {
	method string // empty matches every method
	status int
	body   string
}

// NewServer starts a fake and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		files:    make(map[string]string),
		dirs:     make(map[string]bool),
		failures: make(map[string]failure),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/{owner}/{repo}/contents/{path...}", s.handleContents)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// RequireToken makes the fake reject requests without "Bearer <value>" or
// "token <value>" auth.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// AddFile seeds or overwrites a file.
func (s *Server) AddFile(owner, repo, filePath, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key(owner, repo, filePath)] = content
}

// AddDir seeds a directory, which may stay empty.
func (s *Server) AddDir(owner, repo, dirPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[key(owner, repo, dirPath)] = true
}

// FailPath forces every request for the exact path to answer with status.
func (s *Server) FailPath(owner, repo, p string, status int) {
	body, _ := json.Marshal(map[string]string{"message": http.StatusText(status)})
	s.FailPathWithBody(owner, repo, p, status, string(body))
}

// FailPathWithBody forces every request for the exact path to answer with
// status and the given raw body.
func (s *Server) FailPathWithBody(owner, repo, p string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(owner, repo, p)] = failure{status: status, body: body}
}

// FailWrite forces PUTs to the exact path to answer with status and the raw
// body. Reads are served normally.
func (s *Server) FailWrite(owner, repo, p string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(owner, repo, p)] = failure{method: http.MethodPut, status: status, body: body}
}

// SetWriteDelay holds every PUT response for d after the write is applied.
func (s *Server) SetWriteDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDelay = d
}

// OnFileRead installs a hook run after a JSON file read has been served.
// Tests use it to simulate a concurrent writer.
func (s *Server) OnFileRead(fn func(owner, repo, filePath string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterRead = fn
}

// File returns the current content of a file.
func (s *Server) File(owner, repo, filePath string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[key(owner, repo, filePath)]
	return content, ok
}

// SHA returns the blob sha of a file, or "" when absent.
func (s *Server) SHA(owner, repo, filePath string) string {
	content, ok := s.File(owner, repo, filePath)
	if !ok {
		return ""
	}
	return BlobSHA(content)
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests served.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// BlobSHA computes the git blob sha1 of content, as GitHub reports it.
func BlobSHA(content string) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

func key(owner, repo, p string) string {
	return owner + "/" + repo + "/" + strings.Trim(p, "/")
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	p := strings.Trim(r.PathValue("path"), "/")

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: p})
	token := s.token
	forced, failing := s.failures[key(owner, repo, p)]
	s.mu.Unlock()

	if auth := r.Header.Get("Authorization"); token != "" && auth != "Bearer "+token && auth != "token "+token {
		writeMessage(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	if failing && (forced.method == "" || forced.method == r.Method) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(forced.status)
		_, _ = w.Write([]byte(forced.body))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, owner, repo, p)
	case http.MethodPut:
		s.handlePut(w, r, owner, repo, p)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, owner, repo, p string) {
	s.mu.Lock()
	content, isFile := s.files[key(owner, repo, p)]
	entries := s.listLocked(owner, repo, p)
	hook := s.afterRead
	s.mu.Unlock()

	switch {
	case isFile && strings.Contains(r.Header.Get("Accept"), "raw"):
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(content))
	case isFile:
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"name":     path.Base(p),
			"path":     p,
			"sha":      BlobSHA(content),
			"size":     len(content),
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
		if hook != nil {
			hook(owner, repo, p)
		}
	case entries != nil:
		writeJSON(w, http.StatusOK, entries)
	default:
		writeMessage(w, http.StatusNotFound, "Not Found")
	}
}

// listLocked returns the direct children of dir, or nil when dir does not exist.
func (s *Server) listLocked(owner, repo, dir string) []map[string]string {
	prefix := key(owner, repo, dir) + "/"
	children := make(map[string]string)

	collect := func(k string, isDir bool) {
		if !strings.HasPrefix(k, prefix) {
			return
		}
		rest := strings.TrimPrefix(k, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if nested || isDir {
			children[name] = "dir"
		} else if _, seen := children[name]; !seen {
			children[name] = "file"
		}
	}
	for k := range s.files {
		collect(k, false)
	}
	for k := range s.dirs {
		collect(k, true)
	}

	if len(children) == 0 && !s.dirs[key(owner, repo, dir)] {
		return nil
	}

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		childPath := strings.Trim(dir+"/"+name, "/")
		entry := map[string]string{
			"name": name,
			"path": childPath,
			"type": children[name],
		}
		if children[name] == "file" {
			entry["sha"] = BlobSHA(s.files[key(owner, repo, childPath)])
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, owner, repo, p string) {
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}

	s.mu.Lock()
	k := key(owner, repo, p)
	current, exists := s.files[k]
	switch {
	case exists && body.SHA == "":
		s.mu.Unlock()
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case exists && body.SHA != BlobSHA(current):
		s.mu.Unlock()
		writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, body.SHA))
		return
	}
	s.files[k] = string(decoded)
	s.commitSeq++
	commit := fmt.Sprintf("commit%04d", s.commitSeq)
	delay := s.writeDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{
			"name": path.Base(p),
			"path": p,
			"sha":  BlobSHA(string(decoded)),
		},
		"commit": map[string]string{
			"sha":     commit,
			"message": body.Message,
		},
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
