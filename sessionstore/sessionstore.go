// Package sessionstore holds per-conversation state — pending resume
// records, rolling chat history, and the session scratch directory handle
// — behind a pluggable key/value backend. It generalizes the teacher's
// in-memory LRU session map into a durable, externally-backed store keyed
// by conversation identifier, since a skill agent's conversations must
// survive process restarts between turns.
package sessionstore

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KVStore is the minimal durable key/value contract this package requires.
// Get reports found=false (not an error) for an absent key.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// DefaultRetainSessions is the number of most-recent session directories
// kept under a temp root before older siblings are pruned. This is a
// heuristic, not a correctness requirement: the source of truth for the
// original N=4 default is the reference implementation's cleanup routine.
const DefaultRetainSessions = 4

const (
	resumeKeyPrefix     = "skill:resume:"
	historyKeyPrefix    = "skill:history:"
	sessionDirKeyPrefix = "skill:sessiondir:"
)

// ResumeRecord is the pending-consent record written when a tool reports a
// missing executable and user authorization is required before retrying.
type ResumeRecord struct {
	Pending       bool      `json:"pending"`
	SessionDir    string    `json:"session_dir"`
	OriginalQuery string    `json:"original_query"`
	Reason        string    `json:"reason"`
	Skill         string    `json:"skill"`
	Module        string    `json:"module"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryTurn is one recorded (user, assistant) exchange.
type HistoryTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ConversationState is everything SessionStore tracks for one conversation.
type ConversationState struct {
	Resume           *ResumeRecord `json:"resume,omitempty"`
	History          []HistoryTurn `json:"history,omitempty"`
	SessionDirHandle string        `json:"session_dir_handle,omitempty"`
}

// Store is the conversation-state façade used by AgentLoop. It serializes
// each operation per conversation key (via a bounded LRU of mutexes,
// mirroring the teacher's session LRU) so concurrent turns on different
// conversations never contend. The lock is held for one operation only, so
// two turns on the same conversation key can interleave their operations.
type Store struct {
	kv             KVStore
	tempRoot       string
	retainSessions int

	locks *lockLRU
}

// Option configures a Store.
type Option func(*Store)

// WithRetainSessions overrides DefaultRetainSessions.
func WithRetainSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retainSessions = n
		}
	}
}

// New builds a Store backed by kv, allocating session directories under
// tempRoot.
func New(kv KVStore, tempRoot string, opts ...Option) *Store {
	s := &Store{
		kv:             kv,
		tempRoot:       tempRoot,
		retainSessions: DefaultRetainSessions,
		locks:          newLockLRU(4096),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the current ConversationState for convKey, or a zero-value
// state if none has been persisted yet.
func (s *Store) Load(ctx context.Context, convKey string) (ConversationState, error) {
	unlock := s.locks.Lock(convKey)
	defer unlock()
	return s.loadLocked(ctx, convKey)
}

func (s *Store) loadLocked(ctx context.Context, convKey string) (ConversationState, error) {
	var state ConversationState

	if raw, found, err := s.kv.Get(ctx, resumeKeyPrefix+convKey); err != nil {
		return state, fmt.Errorf("sessionstore: get resume: %w", err)
	} else if found && len(raw) > 0 {
		var r ResumeRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return state, fmt.Errorf("sessionstore: decode resume: %w", err)
		}
		state.Resume = &r
	}

	if raw, found, err := s.kv.Get(ctx, historyKeyPrefix+convKey); err != nil {
		return state, fmt.Errorf("sessionstore: get history: %w", err)
	} else if found && len(raw) > 0 {
		if err := json.Unmarshal(raw, &state.History); err != nil {
			return state, fmt.Errorf("sessionstore: decode history: %w", err)
		}
	}

	if raw, found, err := s.kv.Get(ctx, sessionDirKeyPrefix+convKey); err != nil {
		return state, fmt.Errorf("sessionstore: get session dir: %w", err)
	} else if found {
		state.SessionDirHandle = string(raw)
	}

	return state, nil
}

// SetResume persists a pending resume record for convKey.
func (s *Store) SetResume(ctx context.Context, convKey string, rec ResumeRecord) error {
	unlock := s.locks.Lock(convKey)
	defer unlock()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, resumeKeyPrefix+convKey, raw)
}

// ClearResume removes any pending resume record for convKey, called after
// the next turn's allow/deny reply consumes it.
func (s *Store) ClearResume(ctx context.Context, convKey string) error {
	unlock := s.locks.Lock(convKey)
	defer unlock()
	return s.kv.Set(ctx, resumeKeyPrefix+convKey, nil)
}

// AppendHistory appends turn to convKey's rolling history, truncating to
// the most recent maxTurns entries. maxTurns <= 0 means unbounded.
func (s *Store) AppendHistory(ctx context.Context, convKey string, turn HistoryTurn, maxTurns int) error {
	unlock := s.locks.Lock(convKey)
	defer unlock()

	state, err := s.loadLocked(ctx, convKey)
	if err != nil {
		return err
	}
	history := append(state.History, turn)
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, historyKeyPrefix+convKey, raw)
}

// EnsureSessionDir returns the persisted session directory for convKey,
// creating and persisting a fresh one (and pruning aged-out siblings) if
// none exists yet.
func (s *Store) EnsureSessionDir(ctx context.Context, convKey string) (string, error) {
	unlock := s.locks.Lock(convKey)
	defer unlock()

	if raw, found, err := s.kv.Get(ctx, sessionDirKeyPrefix+convKey); err != nil {
		return "", fmt.Errorf("sessionstore: get session dir: %w", err)
	} else if found && len(raw) > 0 {
		dir := string(raw)
		if _, statErr := os.Stat(dir); statErr == nil {
			return dir, nil
		}
		// Persisted handle points at a directory that no longer exists
		// (host restart, manual cleanup); fall through and allocate fresh.
	}

	dir, err := s.allocateSessionDir()
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, sessionDirKeyPrefix+convKey, []byte(dir)); err != nil {
		return "", fmt.Errorf("sessionstore: persist session dir: %w", err)
	}
	s.pruneOldSessions()
	return dir, nil
}

func (s *Store) allocateSessionDir() (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.tempRoot, id)
	for _, sub := range []string{"uploads", "_skill_cache", "llm_assets"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("sessionstore: create %q: %w", sub, err)
		}
	}
	return dir, nil
}

// pruneOldSessions keeps only the s.retainSessions most-recently-modified
// session directories under tempRoot, removing older ones entirely. Best
// effort: failures to stat or remove a sibling are ignored, since retention
// is a disk-hygiene heuristic, not a correctness requirement.
func (s *Store) pruneOldSessions() {
	if s.retainSessions <= 0 {
		return
	}
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		return
	}
	type dirInfo struct {
		path    string
		modTime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{path: filepath.Join(s.tempRoot, e.Name()), modTime: info.ModTime()})
	}
	if len(dirs) <= s.retainSessions {
		return
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.After(dirs[j].modTime) })
	for _, d := range dirs[s.retainSessions:] {
		_ = os.RemoveAll(d.path)
	}
}

// lockLRU is a bounded cache of per-key mutexes. Keys are evicted
// least-recently-used once the cache exceeds its capacity, since a
// long-running host must not accumulate one mutex per conversation forever.
// It mirrors the eviction shape of the teacher's session LRU, applied to
// locks instead of session objects.
type lockLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	elems    map[string]*list.Element
}

type lockEntry struct {
	key string
	mu  *sync.Mutex
}

func newLockLRU(capacity int) *lockLRU {
	return &lockLRU{
		capacity: capacity,
		ll:       list.New(),
		elems:    map[string]*list.Element{},
	}
}

// Lock acquires the mutex for key, creating it on first use, and returns an
// unlock function. The LRU bookkeeping mutex is held only long enough to
// look up or create the per-key mutex, never across the caller's critical
// section.
func (l *lockLRU) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.elems[key]
	if ok {
		l.ll.MoveToFront(e)
	} else {
		e = l.ll.PushFront(&lockEntry{key: key, mu: &sync.Mutex{}})
		l.elems[key] = e
		for l.ll.Len() > l.capacity {
			back := l.ll.Back()
			if back == nil {
				break
			}
			be := back.Value.(*lockEntry)
			delete(l.elems, be.key)
			l.ll.Remove(back)
		}
	}
	entry := e.Value.(*lockEntry)
	l.mu.Unlock()

	entry.mu.Lock()
	return entry.mu.Unlock
}
