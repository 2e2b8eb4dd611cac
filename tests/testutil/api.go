package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nhle/insync/internal/model"
)

// FakeAPI is an in-process stand-in for the InSync backend. It serves the
// REST endpoints under /api and the notification socket at /ws/{userId}.
type FakeAPI struct {
	Server *httptest.Server

	mu         sync.Mutex
	users      map[string]model.User
	passwords  map[string]string // username -> password
	unread     map[string][]model.Notification
	summaries  map[string]model.DashboardSummary
	workspaces map[string][]model.Workspace
	sockets    map[string][]*websocket.Conn
	markRead   []string
	hits       map[string]int
	failures   map[string]int // route key -> status
}

// NewFakeAPI starts a FakeAPI that is shut down when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		users:      make(map[string]model.User),
		passwords:  make(map[string]string),
		unread:     make(map[string][]model.Notification),
		summaries:  make(map[string]model.DashboardSummary),
		workspaces: make(map[string][]model.Workspace),
		sockets:    make(map[string][]*websocket.Conn),
		hits:       make(map[string]int),
		failures:   make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{userId}", f.handleSocket)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/auth/login", f.handleLogin).Methods(http.MethodPost)
	a.HandleFunc("/auth/register", f.handleRegister).Methods(http.MethodPost)

	authed := a.NewRoute().Subrouter()
	authed.Use(f.requireToken)
	authed.HandleFunc("/user/dashboard-summary", f.handleSummary).Methods(http.MethodGet)
	authed.HandleFunc("/user/{id}", f.handleUser).Methods(http.MethodGet)
	authed.HandleFunc("/workspace/all", f.handleWorkspaces).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/unread", f.handleUnread).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/unread-count", f.handleUnreadCount).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/{id}/read", f.handleMarkRead).Methods(http.MethodPatch)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// Close shuts the server and any open sockets.
func (f *FakeAPI) Close() {
	f.mu.Lock()
	for _, conns := range f.sockets {
		for _, c := range conns {
			c.Close()
		}
	}
	f.sockets = make(map[string][]*websocket.Conn)
	f.mu.Unlock()
	f.Server.Close()
}

// Host returns host:port for use as api.host.
func (f *FakeAPI) Host() string {
	return strings.TrimPrefix(f.Server.URL, "http://")
}

// BaseURL returns the REST base URL including the /api prefix.
func (f *FakeAPI) BaseURL() string {
	return f.Server.URL + "/api"
}

// Config returns an API config pointing at the fake server.
func (f *FakeAPI) Config() model.APIConfig {
	return model.APIConfig{Host: f.Host(), Prefix: "/api", TimeoutSec: 5}
}

// AddUser registers a user that can log in with password.
func (f *FakeAPI) AddUser(u model.User, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	f.passwords[u.Username] = password
}

// SetUnread replaces the server-side unread list for userID.
func (f *FakeAPI) SetUnread(userID string, ns ...model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[userID] = append([]model.Notification(nil), ns...)
}

// AddUnread prepends n to the server-side unread list for userID.
func (f *FakeAPI) AddUnread(userID string, n model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[userID] = append([]model.Notification{n}, f.unread[userID]...)
}

// SetSummary sets the dashboard summary served for userID.
func (f *FakeAPI) SetSummary(userID string, s model.DashboardSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[userID] = s
}

// SetWorkspaces sets the workspaces served for userID.
func (f *FakeAPI) SetWorkspaces(userID string, ws ...model.Workspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[userID] = ws
}

// MarkReadCalls returns the ids passed to the mark-read endpoint.
func (f *FakeAPI) MarkReadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markRead...)
}

// Hits returns how many times a route was served, keyed by "METHOD path".
func (f *FakeAPI) Hits(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

// Fail makes the route keyed "METHOD path" answer with status until
// status is 0.
func (f *FakeAPI) Fail(key string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, key)
		return
	}
	f.failures[key] = status
}

// SocketCount returns the number of open sockets for userID.
func (f *FakeAPI) SocketCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sockets[userID])
}

// Push writes raw to every socket open for userID.
func (f *FakeAPI) Push(userID string, raw []byte) error {
	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.sockets[userID]...)
	f.mu.Unlock()

	if len(conns) == 0 {
		return errors.New("no socket open for " + userID)
	}
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
			return err
		}
	}
	return nil
}

// PushNotification encodes n the way the server does and pushes it.
func (f *FakeAPI) PushNotification(userID string, n model.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return f.Push(userID, raw)
}

// DropSockets closes every socket for userID from the server side.
func (f *FakeAPI) DropSockets(userID string) {
	f.mu.Lock()
	conns := f.sockets[userID]
	delete(f.sockets, userID)
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (f *FakeAPI) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.sockets[userID] = append(f.sockets[userID], conn)
	f.mu.Unlock()

	// Drain client frames until the socket closes, then forget it.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.mu.Lock()
	conns := f.sockets[userID]
	for i, c := range conns {
		if c == conn {
			f.sockets[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(f.sockets[userID]) == 0 {
		delete(f.sockets, userID)
	}
	f.mu.Unlock()
	conn.Close()
}

type ctxKey struct{}

func contextWithUser(r *http.Request, userID string) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, userID)
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (f *FakeAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(TokenSecret), nil
		})
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}

		f.mu.Lock()
		tmpl, _ := mux.CurrentRoute(r).GetPathTemplate()
		key := r.Method + " " + strings.TrimPrefix(tmpl, "/api")
		f.hits[key]++
		status := f.failures[key]
		f.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(r, claims.Subject)))
	})
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}

	f.mu.Lock()
	pw, ok := f.passwords[creds.Username]
	var userID string
	for id, u := range f.users {
		if u.Username == creds.Username {
			userID = id
		}
	}
	f.mu.Unlock()

	if !ok || pw != creds.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TokenSecret))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{AccessToken: tok})
}

func (f *FakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg model.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if reg.Email == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]interface{}{
				{"loc": []string{"body", "email"}, "msg": "value is not a valid email address", "type": "value_error"},
			},
		})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.passwords[reg.Username]; taken {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Username already registered"})
		return
	}
	u := model.User{
		ID:       "u-" + reg.Username,
		Email:    reg.Email,
		Username: reg.Username,
		FullName: reg.FullName,
	}
	f.users[u.ID] = u
	f.passwords[reg.Username] = reg.Password
	writeJSON(w, http.StatusCreated, u)
}

func (f *FakeAPI) handleUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	u, ok := f.users[id]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (f *FakeAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	f.mu.Lock()
	s := f.summaries[userID]
	s.UnreadNotifications = len(f.unread[userID])
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, s)
}

func (f *FakeAPI) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ws := f.workspaces[userFrom(r)]
	f.mu.Unlock()
	if ws == nil {
		ws = []model.Workspace{}
	}
	writeJSON(w, http.StatusOK, ws)
}

func (f *FakeAPI) handleUnread(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ns := append([]model.Notification{}, f.unread[userFrom(r)]...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, ns)
}

func (f *FakeAPI) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	n := len(f.unread[userFrom(r)])
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, n)
}

func (f *FakeAPI) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := userFrom(r)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRead = append(f.markRead, id)

	list := f.unread[userID]
	for i, n := range list {
		if n.ID == id {
			f.unread[userID] = append(list[:i:i], list[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Notification not found"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
