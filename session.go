package main

import (
	"errors"
	"sync"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

const defaultTotalRounds = 3

// Player is one connected participant in a session. The ID doubles as the
// connection id for the lifetime of the connection.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Session is a single game instance. Players are kept in join order;
// the first remaining player inherits hosting when the host leaves.
type Session struct {
	Key          string
	HostID       string
	Players      []Player
	Color        *RGBColor
	CurrentRound int
	TotalRounds  int
	HardMode     bool
	PlayerScores map[string]int
}

func defaultName(connID string) string {
	short := connID
	if len(short) > 4 {
		short = short[:4]
	}
	return "Player " + short
}

func (s *Session) findPlayer(connID string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == connID {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *Session) isHost(connID string) bool {
	p := s.findPlayer(connID)
	return p != nil && p.IsHost
}

// join adds the connection as a new player, or refreshes the stored name
// on a rejoin. Host status is taken as requested and never altered for
// existing players.
func (s *Session) join(connID, name string, isHost bool) {
	if p := s.findPlayer(connID); p != nil {
		if name != "" {
			p.Name = name
		}
		return
	}

	if name == "" {
		name = defaultName(connID)
	}

	s.Players = append(s.Players, Player{
		ID:     connID,
		Name:   name,
		IsHost: isHost,
	})
}

// removePlayer drops the connection from the player list, promoting the
// first remaining player to host if the host left. Reports whether the
// connection was a member.
func (s *Session) removePlayer(connID string) bool {
	idx := -1
	for i, p := range s.Players {
		if p.ID == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	s.Players = append(s.Players[:idx], s.Players[idx+1:]...)

	if s.HostID == connID && len(s.Players) > 0 {
		s.HostID = s.Players[0].ID
		s.Players[0].IsHost = true
	}

	return true
}

// setScore overwrites the cumulative total for one player. Clients report
// their own running totals, so this is last-write-wins per player id.
func (s *Session) setScore(playerID string, totalScore int) {
	if s.PlayerScores == nil {
		s.PlayerScores = make(map[string]int)
	}
	s.PlayerScores[playerID] = totalScore
}

// setScores replaces the score table wholesale with a host-supplied snapshot.
func (s *Session) setScores(scores map[string]int) {
	if scores == nil {
		scores = make(map[string]int)
	}
	s.PlayerScores = scores
}

// startGame generates a fresh target color and enters round 1.
func (s *Session) startGame() RGBColor {
	color := randomColor()
	s.Color = &color
	s.CurrentRound = 1
	return color
}

// applySettings updates shared game settings. A zero currentRound leaves
// round progress untouched.
func (s *Session) applySettings(totalRounds int, hardMode bool, currentRound int) {
	s.TotalRounds = totalRounds
	s.HardMode = hardMode
	if currentRound > 0 {
		s.CurrentRound = currentRound
	}
}

// reset returns the session to the not-started state. Scores are cleared;
// players and color are kept.
func (s *Session) reset() {
	s.CurrentRound = 0
	s.PlayerScores = make(map[string]int)
}

// SessionStore is the authoritative registry of sessions, keyed
// case-sensitively by session key. A session exists here if and only if
// it has at least one player.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session with the given host as its only player.
// Duplicate keys are rejected rather than silently replacing a running
// session.
func (st *SessionStore) Create(key, hostID, hostName string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[key]; exists {
		return nil, ErrSessionExists
	}

	if hostName == "" {
		hostName = defaultName(hostID)
	}

	session := &Session{
		Key:    key,
		HostID: hostID,
		Players: []Player{{
			ID:     hostID,
			Name:   hostName,
			IsHost: true,
		}},
		TotalRounds:  defaultTotalRounds,
		PlayerScores: make(map[string]int),
	}

	st.sessions[key] = session

	return session, nil
}

func (st *SessionStore) Get(key string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	session, exists := st.sessions[key]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Remove deletes a session. Removing an absent key is a no-op.
func (st *SessionStore) Remove(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.sessions, key)
}

// Leave removes the connection from every session containing it. Sessions
// left empty are deleted; the surviving affected sessions are returned so
// the caller can broadcast the refreshed membership.
func (st *SessionStore) Leave(connID string) []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	var affected []*Session

	for key, session := range st.sessions {
		if !session.removePlayer(connID) {
			continue
		}

		if len(session.Players) == 0 {
			delete(st.sessions, key)
			continue
		}

		affected = append(affected, session)
	}

	return affected
}

func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.sessions)
}
