package database

import (
	"fmt"
)

// Session is a revision-numbered undo boundary. Sessions nest in LIFO
// order; closing one either keeps its record on the stack (Push), unwinds
// it (Undo) or folds it into the session below (Squash).
type Session struct {
	db     *Database
	state  *undoState
	closed bool
}

// StartSession opens a new undo state at revision. The revision must be
// strictly greater than the current one.
func (db *Database) StartSession(revision uint64) (*Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if revision <= db.revision {
		return nil, fmt.Errorf("%w: %d <= %d", ErrRevisionNotMonotonic, revision, db.revision)
	}
	us := newUndoState(revision)
	us.prevRevision = db.revision
	db.undo = append(db.undo, us)
	db.revision = revision
	db.log.Debug("session opened", "revision", revision)
	return &Session{db: db, state: us}, nil
}

// Revision returns the session's revision number.
func (s *Session) Revision() uint64 {
	return s.state.revision
}

// Undo unwinds everything recorded at or above this session's revision and
// discards the records. Nested session records still on the stack are
// unwound first, preserving LIFO order.
func (s *Session) Undo() {
	if s.closed {
		return
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	onStack := false
	for _, us := range s.db.undo {
		if us == s.state {
			onStack = true
			break
		}
	}
	if !onStack {
		// Already committed or squashed away; nothing to unwind.
		s.closed = true
		return
	}
	for len(s.db.undo) > 0 {
		top := s.db.topState()
		s.db.popState()
		if top == s.state {
			break
		}
	}
	s.closed = true
	s.db.log.Debug("session undone", "revision", s.state.revision)
}

// Push closes the session keeping its record on the stack; the mutations
// become permanent once the revision is committed.
func (s *Session) Push() {
	if s.closed {
		return
	}
	s.state.closed = true
	s.closed = true
}

// Squash folds this session's record into the undo state directly below
// it, so one undo unwinds both. The session must be the top of the stack.
func (s *Session) Squash() error {
	if s.closed {
		return ErrNoSession
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if top := s.db.topState(); top != s.state {
		return fmt.Errorf("%w: squash target is not the top session", ErrNoSession)
	}
	if len(s.db.undo) < 2 {
		return fmt.Errorf("%w: nothing to squash into", ErrNoSession)
	}
	below := s.db.undo[len(s.db.undo)-2]
	s.state.squashInto(below)
	s.db.undo = s.db.undo[:len(s.db.undo)-1]
	s.db.revision = below.revision
	s.closed = true
	s.db.log.Debug("session squashed", "revision", s.state.revision, "into", below.revision)
	return nil
}

// CreateScope registers a new scope partition. The creation is recorded so
// undoing the session removes the scope again.
func (s *Session) CreateScope(id ScopeID) (*Scope, error) {
	if s.closed {
		return nil, ErrNoSession
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.createScope(s.state, id)
}

// StartShard claims the write scopes for a new shard within this session.
// Claims conflict when a write scope is already claimed for writing or
// reading by another live shard, or a read scope overlaps another shard's
// writes.
func (s *Session) StartShard(writeScopes, readScopes []uint64) (*Shard, error) {
	if s.closed {
		return nil, ErrNoSession
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	us := s.state
	for _, ws := range writeScopes {
		if owner, ok := us.writeClaims[ws]; ok && owner != nil {
			return nil, fmt.Errorf("%w: scope %d already claimed for writing", ErrScopeConflict, ws)
		}
		if us.readClaims[ws] > 0 {
			return nil, fmt.Errorf("%w: scope %d is read-locked", ErrScopeConflict, ws)
		}
	}
	for _, rs := range readScopes {
		if owner, ok := us.writeClaims[rs]; ok && owner != nil {
			return nil, fmt.Errorf("%w: scope %d is write-locked", ErrScopeConflict, rs)
		}
	}

	su := newShardUndo(writeScopes, readScopes)
	us.shards = append(us.shards, su)
	for _, ws := range writeScopes {
		us.writeClaims[ws] = su
	}
	for _, rs := range readScopes {
		us.readClaims[rs]++
	}
	return &Shard{db: s.db, session: s, state: su}, nil
}
