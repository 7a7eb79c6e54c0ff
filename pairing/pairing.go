// Package pairing implements DM pairing: an unknown sender messaging a
// channel for the first time gets a pending request with a short code,
// which the owner approves or rejects out of band before the sender can
// converse with the agent.
package pairing

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
)

// Status is a pairing request's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request is one pairing record, keyed by channel+senderID.
type Request struct {
	Channel     string    `json:"channel"`
	SenderID    string    `json:"senderId"`
	DisplayName string    `json:"displayName,omitempty"`
	Code        string    `json:"code"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func key(channel, senderID string) string {
	return channel + ":" + senderID
}

// Store is a flat JSON file of pairing requests keyed by "channel:senderId".
// It is not safe for concurrent use from multiple processes; within one
// process, callers should serialize access (the gateway owns a single
// Store instance).
type Store struct {
	path string
}

// NewStore returns a Store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) loadAll() (map[string]Request, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]Request), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pairing store: %w", err)
	}
	var out map[string]Request
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode pairing store: %w", err)
	}
	if out == nil {
		out = make(map[string]Request)
	}
	return out, nil
}

func (s *Store) saveAll(data map[string]Request) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create pairing store dir: %w", err)
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pairing store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write pairing store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename pairing store temp file: %w", err)
	}
	return nil
}

func generateCode() string {
	return fmt.Sprintf("%06d", rand.IntN(900_000)+100_000)
}

// IsApproved reports whether channel+senderID is currently approved.
func (s *Store) IsApproved(channel, senderID string) (bool, error) {
	data, err := s.loadAll()
	if err != nil {
		return false, err
	}
	req, ok := data[key(channel, senderID)]
	return ok && req.Status == StatusApproved, nil
}

// CreateRequest creates (or reuses) a pending pairing request for an
// unknown sender, returning the code the owner must confirm out of band.
// A pre-existing pending request for the same sender returns its existing
// code rather than minting a new one.
func (s *Store) CreateRequest(channel, senderID, displayName string) (string, error) {
	data, err := s.loadAll()
	if err != nil {
		return "", err
	}

	k := key(channel, senderID)
	if existing, ok := data[k]; ok && existing.Status == StatusPending {
		return existing.Code, nil
	}

	req := Request{
		Channel:     channel,
		SenderID:    senderID,
		DisplayName: displayName,
		Code:        generateCode(),
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	data[k] = req
	if err := s.saveAll(data); err != nil {
		return "", err
	}
	return req.Code, nil
}

// Approve marks the pending request on channel matching code as approved.
// Returns false (no error) if no such pending request exists.
func (s *Store) Approve(channel, code string) (bool, error) {
	return s.resolve(channel, code, StatusApproved)
}

// Reject marks the pending request on channel matching code as rejected.
// Returns false (no error) if no such pending request exists.
func (s *Store) Reject(channel, code string) (bool, error) {
	return s.resolve(channel, code, StatusRejected)
}

func (s *Store) resolve(channel, code string, outcome Status) (bool, error) {
	data, err := s.loadAll()
	if err != nil {
		return false, err
	}

	for k, req := range data {
		if req.Channel == channel && req.Code == code && req.Status == StatusPending {
			req.Status = outcome
			data[k] = req
			if err := s.saveAll(data); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// List returns every pairing request, in no particular order.
func (s *Store) List() ([]Request, error) {
	data, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(data))
	for _, req := range data {
		out = append(out, req)
	}
	return out, nil
}

// ListPending returns only requests still awaiting approval.
func (s *Store) ListPending() ([]Request, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var pending []Request
	for _, req := range all {
		if req.Status == StatusPending {
			pending = append(pending, req)
		}
	}
	return pending, nil
}
