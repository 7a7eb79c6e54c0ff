// Package store implements the gateway's on-disk session persistence
// (spec C3): a JSON index of session metadata plus one append-only JSONL
// transcript file per session, written atomically via temp-file-and-rename.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"

	"gatewaycore/core"
)

// Store is the persistence contract the agent runtime and router depend on.
type Store interface {
	Load(key core.SessionKey) (*core.Session, error)
	Save(session *core.Session) error
	AppendEntry(key core.SessionKey, entry core.TranscriptEntry) error
	List() ([]core.SessionMeta, error)
	Delete(key core.SessionKey) error
	Reset(key core.SessionKey) error
}

// FileStore is a Store backed by JSONL transcript files under base, with a
// sessions.json index. Layout:
//
//	<base>/sessions.json         — array of core.SessionMeta
//	<base>/transcripts/<hash>.jsonl — one TranscriptEntry per line
type FileStore struct {
	base string

	// locks serializes writers per session hash key so concurrent Append/Save
	// calls against the same session cannot interleave partial writes.
	locks sync.Map // map[string]*sync.Mutex
}

// NewFileStore returns a FileStore rooted at base.
func NewFileStore(base string) *FileStore {
	return &FileStore{base: base}
}

// DefaultDataHome returns the XDG-conformant default location for session
// data, honoring a GATEWAYCORE_DATA_HOME override.
func DefaultDataHome() (string, error) {
	if override := os.Getenv("GATEWAYCORE_DATA_HOME"); override != "" {
		return override, nil
	}
	dir := filepath.Join(xdg.DataHome, "gatewaycore", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create gatewaycore data dir: %w", err)
	}
	return dir, nil
}

func (s *FileStore) lockFor(hash string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(hash, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.base, "sessions.json")
}

func (s *FileStore) transcriptDir() string {
	return filepath.Join(s.base, "transcripts")
}

func (s *FileStore) transcriptPath(key core.SessionKey) string {
	return filepath.Join(s.transcriptDir(), key.HashKey()+".jsonl")
}

func (s *FileStore) ensureDirs() error {
	if err := os.MkdirAll(s.base, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(s.transcriptDir(), 0o755)
}

// atomicWrite writes data to path via a sibling temp file plus rename, so a
// reader never observes a partially written file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) loadIndex() ([]core.SessionMeta, error) {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var metas []core.SessionMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("corrupt session index: %w", err)
	}
	return metas, nil
}

func (s *FileStore) saveIndex(metas []core.SessionMeta) error {
	if err := s.ensureDirs(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.indexPath(), data)
}

func (s *FileStore) loadTranscript(key core.SessionKey) ([]core.TranscriptEntry, error) {
	data, err := os.ReadFile(s.transcriptPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []core.TranscriptEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry core.TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("corrupt transcript line: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Load returns the session for key, or nil if it does not exist.
func (s *FileStore) Load(key core.SessionKey) (*core.Session, error) {
	metas, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if meta.Key != key {
			continue
		}
		transcript, err := s.loadTranscript(key)
		if err != nil {
			return nil, err
		}
		return &core.Session{Meta: meta, Transcript: transcript}, nil
	}
	return nil, nil
}

// Save persists session's metadata and full transcript.
func (s *FileStore) Save(session *core.Session) error {
	lock := s.lockFor(session.Meta.Key.HashKey())
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureDirs(); err != nil {
		return err
	}

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	metas = upsertMeta(metas, session.Meta)
	if err := s.saveIndex(metas); err != nil {
		return err
	}

	var buf []byte
	for _, entry := range session.Transcript {
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return atomicWrite(s.transcriptPath(session.Meta.Key), buf)
}

func upsertMeta(metas []core.SessionMeta, meta core.SessionMeta) []core.SessionMeta {
	for i := range metas {
		if metas[i].Key == meta.Key {
			metas[i] = meta
			return metas
		}
	}
	return append(metas, meta)
}

// AppendEntry appends entry to key's transcript file without rewriting the
// whole file, and bumps the session's LastUpdatedAt in the index.
func (s *FileStore) AppendEntry(key core.SessionKey, entry core.TranscriptEntry) error {
	lock := s.lockFor(key.HashKey())
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureDirs(); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.transcriptPath(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	for i := range metas {
		if metas[i].Key == key {
			metas[i].LastUpdatedAt = time.Now().UTC()
			return s.saveIndex(metas)
		}
	}
	return nil
}

// List returns metadata for every known session.
func (s *FileStore) List() ([]core.SessionMeta, error) {
	return s.loadIndex()
}

// Delete removes key's index entry and transcript file.
func (s *FileStore) Delete(key core.SessionKey) error {
	lock := s.lockFor(key.HashKey())
	lock.Lock()
	defer lock.Unlock()

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	filtered := metas[:0]
	for _, m := range metas {
		if m.Key != key {
			filtered = append(filtered, m)
		}
	}
	if err := s.saveIndex(filtered); err != nil {
		return err
	}

	err = os.Remove(s.transcriptPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Reset truncates key's transcript and records the reset time, without
// removing the session from the index.
func (s *FileStore) Reset(key core.SessionKey) error {
	lock := s.lockFor(key.HashKey())
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureDirs(); err != nil {
		return err
	}
	if err := atomicWrite(s.transcriptPath(key), nil); err != nil {
		return err
	}

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range metas {
		if metas[i].Key == key {
			metas[i].LastResetAt = &now
			metas[i].LastUpdatedAt = now
			return s.saveIndex(metas)
		}
	}
	return nil
}
