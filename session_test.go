package main

import (
	"errors"
	"testing"
)

// checkHostInvariant verifies that a non-empty session has exactly one host
// and that HostID matches that player.
func checkHostInvariant(t *testing.T, s *Session) {
	t.Helper()

	if len(s.Players) == 0 {
		return
	}

	hosts := 0
	hostID := ""
	for _, p := range s.Players {
		if p.IsHost {
			hosts++
			hostID = p.ID
		}
	}

	if hosts != 1 {
		t.Fatalf("session %q has %d hosts, want exactly 1", s.Key, hosts)
	}
	if hostID != s.HostID {
		t.Fatalf("session %q HostID = %q but hosting player is %q", s.Key, s.HostID, hostID)
	}
}

func TestSessionStoreCreate(t *testing.T) {
	store := newSessionStore()

	t.Run("creates session with host player", func(t *testing.T) {
		session, err := store.Create("ABCD", "conn-1", "Alice")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if session.Key != "ABCD" {
			t.Errorf("Key = %q, want %q", session.Key, "ABCD")
		}
		if len(session.Players) != 1 {
			t.Fatalf("expected 1 player, got %d", len(session.Players))
		}
		if session.Players[0].Name != "Alice" || !session.Players[0].IsHost {
			t.Errorf("unexpected host player: %+v", session.Players[0])
		}
		if session.CurrentRound != 0 {
			t.Errorf("CurrentRound = %d, want 0", session.CurrentRound)
		}
		if session.TotalRounds != defaultTotalRounds {
			t.Errorf("TotalRounds = %d, want %d", session.TotalRounds, defaultTotalRounds)
		}
		if session.Color != nil {
			t.Error("expected no color before the first round")
		}
		if len(session.PlayerScores) != 0 {
			t.Errorf("expected empty scores, got %v", session.PlayerScores)
		}
		checkHostInvariant(t, session)
	})

	t.Run("rejects duplicate key", func(t *testing.T) {
		_, err := store.Create("ABCD", "conn-2", "Mallory")
		if !errors.Is(err, ErrSessionExists) {
			t.Errorf("expected ErrSessionExists, got %v", err)
		}

		session, err := store.Get("ABCD")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if session.HostID != "conn-1" {
			t.Errorf("duplicate create replaced the host: %q", session.HostID)
		}
	})

	t.Run("keys are case-sensitive", func(t *testing.T) {
		if _, err := store.Create("abcd", "conn-3", ""); err != nil {
			t.Errorf("expected lowercase variant to be a distinct key, got %v", err)
		}
	})

	t.Run("defaults host name from connection id", func(t *testing.T) {
		session, err := store.Create("WXYZ", "conn-4-long-id", "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if session.Players[0].Name != "Player conn" {
			t.Errorf("default name = %q, want %q", session.Players[0].Name, "Player conn")
		}
	})
}

func TestSessionStoreGet(t *testing.T) {
	store := newSessionStore()

	if _, err := store.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreRemove(t *testing.T) {
	store := newSessionStore()
	store.Create("ABCD", "conn-1", "Alice")

	store.Remove("ABCD")
	if _, err := store.Get("ABCD"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected session to be gone, got %v", err)
	}

	// Removing an absent key is a no-op.
	store.Remove("ABCD")
}

func TestSessionJoin(t *testing.T) {
	t.Run("join is idempotent per connection", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "conn-1", "Alice")

		session.join("conn-2", "Bob", false)
		session.join("conn-2", "Bob", false)

		if len(session.Players) != 2 {
			t.Fatalf("expected 2 players after double join, got %d", len(session.Players))
		}
		checkHostInvariant(t, session)
	})

	t.Run("rejoin updates name when supplied", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "conn-1", "Alice")

		session.join("conn-2", "Bob", false)
		session.join("conn-2", "Robert", false)

		if session.Players[1].Name != "Robert" {
			t.Errorf("name = %q, want %q", session.Players[1].Name, "Robert")
		}
	})

	t.Run("rejoin keeps name when empty", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "conn-1", "Alice")

		session.join("conn-2", "Bob", false)
		session.join("conn-2", "", false)

		if session.Players[1].Name != "Bob" {
			t.Errorf("name = %q, want %q", session.Players[1].Name, "Bob")
		}
	})

	t.Run("rejoin does not alter host status", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "conn-1", "Alice")

		session.join("conn-1", "Alice", false)

		if !session.Players[0].IsHost {
			t.Error("rejoin cleared the host flag")
		}
		checkHostInvariant(t, session)
	})

	t.Run("players are kept in join order", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "conn-1", "Alice")

		session.join("conn-2", "Bob", false)
		session.join("conn-3", "Carol", false)

		names := []string{"Alice", "Bob", "Carol"}
		for i, want := range names {
			if session.Players[i].Name != want {
				t.Errorf("Players[%d].Name = %q, want %q", i, session.Players[i].Name, want)
			}
		}
	})
}

func TestLeave(t *testing.T) {
	t.Run("host migration follows join order", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "a", "A")
		session.join("b", "B", false)
		session.join("c", "C", false)

		affected := store.Leave("a")

		if len(affected) != 1 {
			t.Fatalf("expected 1 affected session, got %d", len(affected))
		}

		got := affected[0]
		if got.HostID != "b" {
			t.Errorf("HostID = %q, want %q", got.HostID, "b")
		}
		if len(got.Players) != 2 || got.Players[0].ID != "b" || got.Players[1].ID != "c" {
			t.Errorf("unexpected player order after migration: %+v", got.Players)
		}
		if !got.Players[0].IsHost {
			t.Error("promoted player is not flagged as host")
		}
		checkHostInvariant(t, got)
	})

	t.Run("non-host leaving does not migrate host", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "a", "A")
		session.join("b", "B", false)

		store.Leave("b")

		got, err := store.Get("ABCD")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.HostID != "a" || !got.Players[0].IsHost {
			t.Errorf("host changed unexpectedly: %+v", got.Players)
		}
	})

	t.Run("last player leaving deletes the session", func(t *testing.T) {
		store := newSessionStore()
		store.Create("ABCD", "a", "A")

		affected := store.Leave("a")

		if len(affected) != 0 {
			t.Errorf("expected no surviving sessions, got %d", len(affected))
		}
		if store.Count() != 0 {
			t.Errorf("store still holds %d sessions", store.Count())
		}
		if _, err := store.Get("ABCD"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("connection is removed from every session", func(t *testing.T) {
		store := newSessionStore()
		first, _ := store.Create("AAAA", "host-1", "H1")
		second, _ := store.Create("BBBB", "host-2", "H2")
		first.join("shared", "S", false)
		second.join("shared", "S", false)

		affected := store.Leave("shared")

		if len(affected) != 2 {
			t.Fatalf("expected 2 affected sessions, got %d", len(affected))
		}
		for _, s := range affected {
			if s.findPlayer("shared") != nil {
				t.Errorf("session %q still contains the departed connection", s.Key)
			}
		}
	})

	t.Run("departed player scores are retained", func(t *testing.T) {
		store := newSessionStore()
		session, _ := store.Create("ABCD", "a", "A")
		session.join("b", "B", false)
		session.setScore("b", 42)

		store.Leave("b")

		got, _ := store.Get("ABCD")
		if got.PlayerScores["b"] != 42 {
			t.Errorf("score for departed player = %d, want 42", got.PlayerScores["b"])
		}
	})

	t.Run("unknown connection is a no-op", func(t *testing.T) {
		store := newSessionStore()
		store.Create("ABCD", "a", "A")

		if affected := store.Leave("stranger"); len(affected) != 0 {
			t.Errorf("expected no affected sessions, got %d", len(affected))
		}
		if store.Count() != 1 {
			t.Errorf("session disappeared: count = %d", store.Count())
		}
	})
}

func TestSetScore(t *testing.T) {
	store := newSessionStore()
	session, _ := store.Create("ABCD", "a", "A")
	session.join("b", "B", false)

	session.setScore("b", 80)
	session.setScore("b", 150)

	// Totals are overwritten, never summed; the client reports its own
	// accumulated total.
	if session.PlayerScores["b"] != 150 {
		t.Errorf("PlayerScores[b] = %d, want 150", session.PlayerScores["b"])
	}
}

func TestStartGame(t *testing.T) {
	store := newSessionStore()
	session, _ := store.Create("ABCD", "a", "A")

	color := session.startGame()

	if session.CurrentRound != 1 {
		t.Errorf("CurrentRound = %d, want 1", session.CurrentRound)
	}
	if session.Color == nil || *session.Color != color {
		t.Errorf("stored color %v does not match returned color %v", session.Color, color)
	}
	if !color.valid() {
		t.Errorf("generated color out of range: %v", color)
	}
}

func TestApplySettings(t *testing.T) {
	store := newSessionStore()
	session, _ := store.Create("ABCD", "a", "A")
	session.CurrentRound = 2

	t.Run("zero currentRound leaves progress untouched", func(t *testing.T) {
		session.applySettings(5, true, 0)

		if session.TotalRounds != 5 || !session.HardMode {
			t.Errorf("settings not applied: rounds=%d hard=%v", session.TotalRounds, session.HardMode)
		}
		if session.CurrentRound != 2 {
			t.Errorf("CurrentRound = %d, want 2", session.CurrentRound)
		}
	})

	t.Run("positive currentRound overrides progress", func(t *testing.T) {
		session.applySettings(5, true, 4)

		if session.CurrentRound != 4 {
			t.Errorf("CurrentRound = %d, want 4", session.CurrentRound)
		}
	})
}

func TestReset(t *testing.T) {
	store := newSessionStore()
	session, _ := store.Create("ABCD", "a", "A")
	session.join("b", "B", false)
	session.startGame()
	session.setScore("b", 99)

	session.reset()

	if session.CurrentRound != 0 {
		t.Errorf("CurrentRound = %d, want 0", session.CurrentRound)
	}
	if len(session.PlayerScores) != 0 {
		t.Errorf("scores not cleared: %v", session.PlayerScores)
	}
	if len(session.Players) != 2 {
		t.Errorf("reset dropped players: %d remain", len(session.Players))
	}
}
