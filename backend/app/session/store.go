// Package session keeps the in-progress transfer sessions of the backend.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	xx "github.com/cespare/xxhash/v2"
)

const (
	defaultShards = 32
	// caps the initial size of a session's chunk map
	maxChunkHint = 1024
)

var (
	ErrSessionNotFound = errors.New("transfer session not found")
	ErrFinalized       = errors.New("transfer session already finalized")
	ErrShapeMismatch   = errors.New("chunk does not match session")
)

// Meta is the part of a session fixed by its first chunk.
type Meta struct {
	ID          string `json:"session_id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	TotalChunks int    `json:"total_chunks"`
	SourceID    string `json:"source_id"`
}

// Info is a point-in-time copy of a session.
type Info struct {
	Meta
	Received     int       `json:"received_chunks"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	Assembling   bool      `json:"assembling"`
}

func (i Info) IsComplete() bool { return i.TotalChunks > 0 && i.Received == i.TotalChunks }

func (i Info) Progress() float64 {
	if i.TotalChunks <= 0 {
		return 0
	}
	return float64(i.Received) / float64(i.TotalChunks) * 100
}

// Assembly is what the file assembler needs from a complete session. The
// chunk slices are shared with the store but never written again.
type Assembly struct {
	Meta
	StartTime time.Time
	Chunks    map[int][]byte
}

type PutResult struct {
	Info
	Duplicate bool
	// Completed is set for exactly one Put per session: the one that stored
	// the last missing index. Assembly is non-nil only then.
	Completed bool
	Assembly  *Assembly
}

type transferSession struct {
	meta         Meta
	chunks       map[int][]byte
	startTime    time.Time
	lastActivity time.Time
	assembling   bool
}

func (s *transferSession) info() Info {
	return Info{
		Meta:         s.meta,
		Received:     len(s.chunks),
		StartTime:    s.startTime,
		LastActivity: s.lastActivity,
		Assembling:   s.assembling,
	}
}

type shard struct {
	mu        sync.Mutex
	sessions  map[string]*transferSession
	finalized map[string]time.Time
}

// Store maps session ids to transfer state. Every method is atomic per
// session; sessions hash onto independently locked shards.
type Store struct {
	shards []*shard
}

func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = defaultShards
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{
			sessions:  make(map[string]*transferSession),
			finalized: make(map[string]time.Time),
		}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xx.Sum64String(id)%uint64(len(s.shards))]
}

// Touch gets or creates the session described by meta and marks it active.
func (s *Store) Touch(meta Meta, now time.Time) (Info, bool, error) {
	sh := s.shardFor(meta.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, done := sh.finalized[meta.ID]; done {
		return Info{}, false, ErrFinalized
	}
	sess, ok := sh.sessions[meta.ID]
	if !ok {
		sess = &transferSession{
			meta:         meta,
			chunks:       make(map[int][]byte, min(meta.TotalChunks, maxChunkHint)),
			startTime:    now,
			lastActivity: now,
		}
		sh.sessions[meta.ID] = sess
		return sess.info(), true, nil
	}
	if sess.meta.TotalChunks != meta.TotalChunks || sess.meta.FileSize != meta.FileSize {
		return sess.info(), false, ErrShapeMismatch
	}
	sess.lastActivity = now
	return sess.info(), false, nil
}

// Put stores the bytes of one chunk. Storing an index twice is a no-op.
func (s *Store) Put(id string, index int, data []byte, now time.Time) (PutResult, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, done := sh.finalized[id]; done {
		return PutResult{}, ErrFinalized
	}
	sess, ok := sh.sessions[id]
	if !ok {
		return PutResult{}, ErrSessionNotFound
	}
	if index < 0 || index >= sess.meta.TotalChunks {
		return PutResult{}, ErrShapeMismatch
	}
	sess.lastActivity = now
	if _, dup := sess.chunks[index]; dup {
		return PutResult{Info: sess.info(), Duplicate: true}, nil
	}
	sess.chunks[index] = data

	res := PutResult{Info: sess.info()}
	if res.IsComplete() && !sess.assembling {
		sess.assembling = true
		res.Assembling = true
		res.Completed = true
		chunks := make(map[int][]byte, len(sess.chunks))
		for k, v := range sess.chunks {
			chunks[k] = v
		}
		res.Assembly = &Assembly{Meta: sess.meta, StartTime: sess.startTime, Chunks: chunks}
	}
	return res, nil
}

// Remove deletes the session if present and remembers its id as finalized.
func (s *Store) Remove(id string, now time.Time) (Info, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return Info{}, false
	}
	delete(sh.sessions, id)
	sh.finalized[id] = now
	return sess.info(), true
}

// EvictStale removes every session idle since before cutoff, except those
// being assembled, and returns what it removed.
func (s *Store) EvictStale(cutoff, now time.Time) []Info {
	var out []Info
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.assembling || !sess.lastActivity.Before(cutoff) {
				continue
			}
			delete(sh.sessions, id)
			sh.finalized[id] = now
			out = append(out, sess.info())
		}
		sh.mu.Unlock()
	}
	return out
}

// PruneFinalized forgets finalized ids recorded before the given time.
func (s *Store) PruneFinalized(before time.Time) int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, at := range sh.finalized {
			if at.Before(before) {
				delete(sh.finalized, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) IsFinalized(id string) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.finalized[id]
	return ok
}

func (s *Store) Get(id string) (Info, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return Info{}, false
	}
	return sess.info(), true
}

// Indices returns the received chunk indices of a session in ascending order.
func (s *Store) Indices(id string) ([]int, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[id]
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(sess.chunks))
	for i := range sess.chunks {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, true
}

// List returns all active sessions, oldest first.
func (s *Store) List() []Info {
	var out []Info
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, sess := range sh.sessions {
			out = append(out, sess.info())
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
