// Colorz color-guessing game
//
// A host creates a session, other players join it by session key, and the
// host drives round progression. Each round has a target color; players
// submit guesses scored by perceptual closeness, and totals accumulate per
// session for a leaderboard.
//
// Features:
// - Single WebSocket endpoint; all game traffic is typed JSON messages
// - Sessions created and joined by key, with a shareable join URL per session
// - Host authority over round progression, settings, and the leaderboard
// - Any player may submit its own guess score; totals are last-write-wins
// - Host migration to the longest-joined player on disconnect
// - Late joiners receive the current target color and game settings
// - Unrecognized message types are re-broadcast to every connection
// - Random 4-char session keys via crypto/rand, with collision check
// - In-browser QR button to share a session join URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type         string         `json:"type"`                   // message kind, routes dispatch
	SessionKey   string         `json:"sessionKey,omitempty"`   // all session-scoped messages
	Username     string         `json:"username,omitempty"`     // create_session / join_session
	IsHost       bool           `json:"isHost,omitempty"`       // join_session
	TotalRounds  int            `json:"totalRounds,omitempty"`  // game_settings
	HardMode     bool           `json:"hardMode,omitempty"`     // game_settings
	CurrentRound int            `json:"currentRound,omitempty"` // game_settings / new_round
	Color        *RGBColor      `json:"color,omitempty"`        // update_session_color / submit_guess
	PlayerID     string         `json:"playerId,omitempty"`     // submit_guess
	Score        int            `json:"score,omitempty"`        // submit_guess, this round only
	TotalScore   int            `json:"totalScore,omitempty"`   // submit_guess, accumulated
	PlayerScores map[string]int `json:"playerScores,omitempty"` // show_leaderboard / update_scores
}

// PlayerJoinedMessage carries the refreshed player list, doubling as the
// membership-changed broadcast after a disconnect.
type PlayerJoinedMessage struct {
	Type       string   `json:"type"` // "player_joined"
	SessionKey string   `json:"sessionKey"`
	Players    []Player `json:"players"`
}

// SessionColorMessage announces the session's current target color.
type SessionColorMessage struct {
	Type       string   `json:"type"` // "session_color_update"
	SessionKey string   `json:"sessionKey"`
	Color      RGBColor `json:"color"`
}

// GameSettingsMessage is the settings snapshot unicast to late joiners.
type GameSettingsMessage struct {
	Type         string `json:"type"` // "game_settings"
	SessionKey   string `json:"sessionKey"`
	TotalRounds  int    `json:"totalRounds"`
	HardMode     bool   `json:"hardMode"`
	CurrentRound int    `json:"currentRound"`
}

// GameStartedMessage announces round 1 and its target color.
type GameStartedMessage struct {
	Type         string   `json:"type"` // "game_started"
	SessionKey   string   `json:"sessionKey"`
	InitialColor RGBColor `json:"initialColor"`
	CurrentRound int      `json:"currentRound"`
}

// ScoresMessage broadcasts the session's cumulative score table.
type ScoresMessage struct {
	Type         string         `json:"type"` // "update_scores"
	SessionKey   string         `json:"sessionKey"`
	PlayerScores map[string]int `json:"playerScores"`
}

// ErrorMessage is sent to a single client, only for joining a missing session.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// wsEvent is one unit of work for the dispatch loop: either an inbound
// message or a disconnect notification. Both arrive on the same channel so
// a connection's messages are handled in arrival order, with its disconnect
// strictly last.
type wsEvent struct {
	client     *Client
	raw        json.RawMessage
	msg        ClientMessage
	disconnect bool
}

// Router owns the connection set and dispatches every inbound message to
// the matching handler. All session state lives in the store; all of it is
// mutated from the single run loop, one event at a time.
type Router struct {
	cfg     *Config
	store   *SessionStore
	clients map[string]*Client

	register chan *Client
	events   chan wsEvent
}

func newRouter(cfg *Config, store *SessionStore) *Router {
	return &Router{
		cfg:      cfg,
		store:    store,
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		events:   make(chan wsEvent),
	}
}

func (rt *Router) run() {
	for {
		select {
		case c := <-rt.register:
			rt.clients[c.id] = c
			logf(rt.cfg, "WS: Connection %s established", c.id)

		case ev := <-rt.events:
			if ev.disconnect {
				rt.handleDisconnect(ev.client)
				continue
			}
			rt.dispatch(ev)
		}
	}
}

// dispatch routes one inbound message by its type tag. Unrecognized types
// fall through to a broadcast to every connection, not just session
// members, as a free-form signaling channel.
func (rt *Router) dispatch(ev wsEvent) {
	c := ev.client
	msg := ev.msg

	switch msg.Type {
	case "create_session":
		rt.handleCreateSession(c, msg)
	case "join_session":
		rt.handleJoinSession(c, msg)
	case "game_settings":
		rt.handleGameSettings(c, msg, ev.raw)
	case "update_session_color":
		rt.handleUpdateSessionColor(c, msg)
	case "submit_guess":
		rt.handleSubmitGuess(c, msg)
	case "new_round":
		rt.handleNewRound(c, msg, ev.raw)
	case "show_leaderboard":
		rt.handleShowLeaderboard(c, msg, ev.raw)
	case "reset_game":
		rt.handleResetGame(c, msg, ev.raw)
	case "update_scores":
		rt.handleUpdateScores(c, msg, ev.raw)
	case "start_game":
		rt.handleStartGame(c, msg)
	default:
		rt.broadcastAll(ev.raw)
	}
}

// sendTo queues a payload for a single client, dropping the client if its
// send buffer is full. Clients already dropped are skipped; their send
// channel is closed.
func (rt *Router) sendTo(c *Client, payload any) {
	if _, ok := rt.clients[c.id]; !ok {
		return
	}

	select {
	case c.send <- payload:
	default:
		rt.dropClient(c)
	}
}

// emitToConnection unicasts to one connection by id.
func (rt *Router) emitToConnection(connID string, payload any) {
	if c, ok := rt.clients[connID]; ok {
		rt.sendTo(c, payload)
	}
}

// emitToSession multicasts to every current member of a session.
func (rt *Router) emitToSession(session *Session, payload any) {
	for _, p := range session.Players {
		rt.emitToConnection(p.ID, payload)
	}
}

// broadcastAll sends to every connection, session member or not.
func (rt *Router) broadcastAll(payload any) {
	for _, c := range rt.clients {
		rt.sendTo(c, payload)
	}
}

func (rt *Router) dropClient(c *Client) {
	if _, ok := rt.clients[c.id]; ok {
		delete(rt.clients, c.id)
		close(c.send)
	}
}

// handleDisconnect removes the connection from the registry and from every
// session containing it, migrating hosts and deleting emptied sessions.
// Messages already queued behind the disconnect degrade to no-ops since
// their session or player is gone.
func (rt *Router) handleDisconnect(c *Client) {
	rt.dropClient(c)

	affected := rt.store.Leave(c.id)
	for _, session := range affected {
		rt.emitToSession(session, PlayerJoinedMessage{
			Type:       "player_joined",
			SessionKey: session.Key,
			Players:    session.Players,
		})
	}

	logf(rt.cfg, "WS: Connection %s closed (%d sessions affected)", c.id, len(affected))
}

func (rt *Router) handleCreateSession(c *Client, msg ClientMessage) {
	if msg.SessionKey == "" {
		return
	}

	session, err := rt.store.Create(msg.SessionKey, c.id, msg.Username)
	if err != nil {
		logf(rt.cfg, "GAMES: Rejected create for existing session %q from %s", msg.SessionKey, c.id)
		return
	}

	logf(rt.cfg, "GAMES: Session %q created by %s (%q)", session.Key, c.id, msg.Username)

	rt.emitToSession(session, PlayerJoinedMessage{
		Type:       "player_joined",
		SessionKey: session.Key,
		Players:    session.Players,
	})
}

func (rt *Router) handleJoinSession(c *Client, msg ClientMessage) {
	if msg.SessionKey == "" {
		return
	}

	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		rt.sendTo(c, ErrorMessage{
			Type:    "error",
			Message: "Session not found",
		})
		return
	}

	session.join(c.id, msg.Username, msg.IsHost)

	logf(rt.cfg, "GAMES: Player %s (%q) joined session %q", c.id, msg.Username, session.Key)

	rt.emitToSession(session, PlayerJoinedMessage{
		Type:       "player_joined",
		SessionKey: session.Key,
		Players:    session.Players,
	})

	// Late joiners catch up on the current target without waiting for the
	// next broadcast.
	if session.Color != nil {
		rt.sendTo(c, SessionColorMessage{
			Type:       "session_color_update",
			SessionKey: session.Key,
			Color:      *session.Color,
		})
	}

	if session.CurrentRound > 0 {
		rt.sendTo(c, GameSettingsMessage{
			Type:         "game_settings",
			SessionKey:   session.Key,
			TotalRounds:  session.TotalRounds,
			HardMode:     session.HardMode,
			CurrentRound: session.CurrentRound,
		})
	}
}

func (rt *Router) handleGameSettings(c *Client, msg ClientMessage, raw json.RawMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	session.applySettings(msg.TotalRounds, msg.HardMode, msg.CurrentRound)

	rt.emitToSession(session, raw)
}

func (rt *Router) handleUpdateSessionColor(c *Client, msg ClientMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	if msg.Color == nil || !msg.Color.valid() {
		return
	}

	session.Color = msg.Color

	rt.emitToSession(session, SessionColorMessage{
		Type:       "session_color_update",
		SessionKey: session.Key,
		Color:      *msg.Color,
	})
}

func (rt *Router) handleSubmitGuess(c *Client, msg ClientMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if msg.PlayerID == "" {
		return
	}

	session.setScore(msg.PlayerID, msg.TotalScore)

	if msg.Color != nil && msg.Color.valid() && session.Color != nil {
		logf(rt.cfg, "GAMES: Player %s scored %d against the target in %q (reported %d, total %d)",
			msg.PlayerID, scoreColors(*msg.Color, *session.Color), session.Key, msg.Score, msg.TotalScore)
	} else {
		logf(rt.cfg, "GAMES: Player %s submitted a guess in %q (score %d, total %d)",
			msg.PlayerID, session.Key, msg.Score, msg.TotalScore)
	}

	rt.emitToSession(session, ScoresMessage{
		Type:         "update_scores",
		SessionKey:   session.Key,
		PlayerScores: session.PlayerScores,
	})
}

func (rt *Router) handleNewRound(c *Client, msg ClientMessage, raw json.RawMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	session.CurrentRound = msg.CurrentRound

	rt.emitToSession(session, raw)
}

func (rt *Router) handleShowLeaderboard(c *Client, msg ClientMessage, raw json.RawMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	session.setScores(msg.PlayerScores)

	rt.emitToSession(session, raw)
}

func (rt *Router) handleResetGame(c *Client, msg ClientMessage, raw json.RawMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	session.reset()

	logf(rt.cfg, "GAMES: Session %q reset", session.Key)

	rt.emitToSession(session, raw)
}

func (rt *Router) handleUpdateScores(c *Client, msg ClientMessage, raw json.RawMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	session.setScores(msg.PlayerScores)

	rt.emitToSession(session, raw)
}

func (rt *Router) handleStartGame(c *Client, msg ClientMessage) {
	session, err := rt.store.Get(msg.SessionKey)
	if err != nil {
		return
	}

	if !session.isHost(c.id) {
		return
	}

	initialColor := session.startGame()

	logf(rt.cfg, "GAMES: Game started for session %q", session.Key)

	rt.emitToSession(session, GameStartedMessage{
		Type:         "game_started",
		SessionKey:   session.Key,
		InitialColor: initialColor,
		CurrentRound: session.CurrentRound,
	})
}

func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.origin == "" {
				return true
			}
			return r.Header.Get("Origin") == cfg.origin
		},
	}
}

// newConnectionID generates a random id identifying one connection for its
// lifetime. It doubles as player identity within sessions.
func newConnectionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// WebSocket handler: one shared endpoint, sessions are created and joined
// via messages.
func serveWS(cfg *Config, rt *Router) httprouter.Handle {
	upgrader := newUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   newConnectionID(),
		}

		rt.register <- client

		go client.writePump()
		client.readPump(rt)
	}
}

func (c *Client) readPump(rt *Router) {
	defer func() {
		rt.events <- wsEvent{
			client:     c,
			disconnect: true,
		}
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		rt.events <- wsEvent{
			client: c,
			raw:    json.RawMessage(raw),
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// newSessionKey generates a crypto-random session key and ensures it
// doesn't collide with an existing session.
func newSessionKey(store *SessionStore) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 4)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		key := string(out)

		if _, err := store.Get(key); err != nil {
			return key
		}
	}
}

// QR handler: generates a PNG QR code for a session join URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionKey := ps.ByName("sessionkey")
		if sessionKey == "" {
			http.Error(w, "missing session key", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:sessionkey/qr; strip trailing "/qr" to get the join URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		securityHeaders(cfg, w)

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func serveSessionPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionKey := ps.ByName("sessionkey")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("colorz - "+sessionKey, "Session "+sessionKey)))
	}
}

// redirectNewSession handles GET /path by generating a new random session
// key (with server-side collision detection) and redirecting to
// /path/:sessionkey.
func redirectNewSession(cfg *Config, path string, store *SessionStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		sessionKey := newSessionKey(store)
		logf(cfg, "GAMES: Suggested session %s/%s", path, sessionKey)
		http.Redirect(w, r, cfg.prefix+path+"/"+sessionKey, http.StatusTemporaryRedirect)
	}
}

// registerColorzGame sets up routes so that:
//   - $path                    → redirects to a fresh random session key
//   - $path/:sessionkey        → HTML join page
//   - $path/:sessionkey/qr     → PNG QR code for that join URL
//   - /ws                      → shared WebSocket endpoint for all sessions
func registerColorzGame(cfg *Config, path string, mux *httprouter.Router) {
	store := newSessionStore()

	router := newRouter(cfg, store)
	go router.run()

	// Root path → redirect to a fresh session key
	mux.GET(cfg.prefix+path, redirectNewSession(cfg, path, store))

	// Per-session join page (HTML)
	mux.GET(cfg.prefix+path+"/:sessionkey", serveSessionPage(cfg))

	// Per-session QR code
	mux.GET(cfg.prefix+path+"/:sessionkey/qr", qrHandler(cfg))

	// Shared websocket (session membership is message-driven)
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, router))
}
