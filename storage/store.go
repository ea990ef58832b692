// Package storage persists per-user preferences and commit receipts in NATS KV.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names.
const (
	BucketPreferences = "VOTECONTEXT_PREFERENCES"
	BucketCommits     = "VOTECONTEXT_COMMITS"
)

// Preference is the repository a user last chose to browse.
type Preference struct {
	UserID       string    `json:"user_id"`
	Organization string    `json:"org"`
	Repository   string    `json:"repo"`
	MinYear      int       `json:"min_year,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CommitRecord is a receipt for a rationale committed through the service.
type CommitRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Organization string    `json:"org"`
	Repository   string    `json:"repo"`
	Year         string    `json:"year"`
	ProposalName string    `json:"proposal_name"`
	Path         string    `json:"path"`
	CommitSHA    string    `json:"commit_sha,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store provides preference and receipt storage backed by NATS KV.
type Store struct {
	preferences jetstream.KeyValue
	commits     jetstream.KeyValue
}

// NewStore creates a Store with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	preferences, err := getOrCreateBucket(ctx, js, BucketPreferences, 5)
	if err != nil {
		return nil, fmt.Errorf("create preferences bucket: %w", err)
	}

	commits, err := getOrCreateBucket(ctx, js, BucketCommits, 1)
	if err != nil {
		return nil, fmt.Errorf("create commits bucket: %w", err)
	}

	return &Store{
		preferences: preferences,
		commits:     commits,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, history uint8) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("votecontext %s storage", strings.ToLower(name)),
		History:     history,
	})
}

// userKey maps an arbitrary user id onto the KV key alphabet.
func userKey(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// GetPreference returns the stored preference for userID.
func (s *Store) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}

	entry, err := s.preferences.Get(ctx, userKey(userID))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}

	var p Preference
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("unmarshal preference: %w", err)
	}
	return &p, nil
}

// PutPreference stores p, replacing any previous preference for the user.
func (s *Store) PutPreference(ctx context.Context, p *Preference) error {
	if p.UserID == "" || p.Organization == "" || p.Repository == "" {
		return fmt.Errorf("%w: user id, org and repo are required", ErrInvalidRecord)
	}

	p.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preference: %w", err)
	}

	if _, err := s.preferences.Put(ctx, userKey(p.UserID), data); err != nil {
		return fmt.Errorf("store preference: %w", err)
	}
	return nil
}

// DeletePreference removes the preference for userID. Deleting a missing
// preference is not an error.
func (s *Store) DeletePreference(ctx context.Context, userID string) error {
	if err := s.preferences.Delete(ctx, userKey(userID)); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

// RecordCommit stores a receipt and returns its id.
func (s *Store) RecordCommit(ctx context.Context, rec *CommitRecord) (string, error) {
	if rec.UserID == "" || rec.Path == "" {
		return "", fmt.Errorf("%w: user id and path are required", ErrInvalidRecord)
	}

	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal commit record: %w", err)
	}

	if _, err := s.commits.Create(ctx, rec.ID, data); err != nil {
		return "", fmt.Errorf("store commit record: %w", err)
	}
	return rec.ID, nil
}

// ListCommitsByUser returns the user's receipts, newest first.
func (s *Store) ListCommitsByUser(ctx context.Context, userID string) ([]*CommitRecord, error) {
	keys, err := s.commits.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list commit keys: %w", err)
	}

	var records []*CommitRecord
	for _, key := range keys {
		entry, err := s.commits.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var rec CommitRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		if rec.UserID == userID {
			records = append(records, &rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}
