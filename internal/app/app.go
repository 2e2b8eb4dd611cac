package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/keys"
	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
	"github.com/nhle/insync/internal/reconcile"
	"github.com/nhle/insync/internal/session"
	appsync "github.com/nhle/insync/internal/sync"
	"github.com/nhle/insync/internal/theme"
	"github.com/nhle/insync/internal/ui"
	"github.com/nhle/insync/internal/ui/auth"
	"github.com/nhle/insync/internal/ui/command"
	"github.com/nhle/insync/internal/ui/dashboard"
	helpview "github.com/nhle/insync/internal/ui/help"
	"github.com/nhle/insync/internal/ui/notifications"
)

// NewNotificationToast is the banner raised for every new push.
const NewNotificationToast = "You have a new notification."

// SessionExpiredNotice is shown on the login form when a protected action
// finds the session gone.
const SessionExpiredNotice = "Your session has expired. Please log in again."

// toastDuration is how long the new-notification banner stays up.
var toastDuration = 4 * time.Second

// requestTimeout bounds the REST calls issued from the UI.
const requestTimeout = 30 * time.Second

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewAuth ViewState = iota
	ViewDashboard
	ViewNotifications
	ViewHelp
	ViewCommand
)

// protected reports whether v requires a valid session.
func (v ViewState) protected() bool {
	return v == ViewDashboard || v == ViewNotifications
}

// Deps are the services the UI drives.
type Deps struct {
	Session    *session.Store
	API        *api.Client
	Pipeline   *appsync.Pipeline
	Reconciler *reconcile.Reconciler
	Log        *zap.Logger
}

type loginResultMsg struct{ err error }

type registerResultMsg struct{ err error }

type notificationsLoadedMsg struct {
	userID string
	items  []model.Notification
	count  int
	err    error
}

// markReadResultMsg wraps the pipeline's answer to a mark-read so it is
// not mistaken for a streamed result.
type markReadResultMsg struct{ msg tea.Msg }

type toastExpiredMsg struct{ seq int }

// Model is the root Bubble Tea model that manages view routing, session
// gating and the notification pipeline.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	deps         Deps
	log          *zap.Logger
	keys         *keys.KeyMap

	auth          auth.Model
	dashboard     dashboard.Model
	notifications notifications.Model
	helpView      helpview.Model
	commandView   command.Model

	ready       bool
	user        *model.User
	unreadCount int
	channel     realtime.State
	toast       string
	toastSeq    int
	status      string
}

// New creates the root application model. The first view depends on the
// stored session: the dashboard when it is valid, the auth view otherwise.
func New(deps Deps) Model {
	k := keys.DefaultKeyMap()
	m := Model{
		currentView:   ViewDashboard,
		previousView:  ViewDashboard,
		deps:          deps,
		log:           logging.Component(deps.Log, "app"),
		keys:          k,
		auth:          auth.New(80, 24),
		dashboard:     dashboard.New(80, 24),
		notifications: notifications.New(k, 80, 24),
		helpView:      helpview.New(k, 80, 24),
		commandView:   command.New(80, 24),
		channel:       realtime.Disconnected,
	}
	if err := deps.Session.Authorize(); err != nil {
		m.currentView = ViewAuth
	}
	return m
}

// Init starts the pipeline for a signed-in user or the auth form.
func (m Model) Init() tea.Cmd {
	if m.currentView == ViewAuth {
		return m.auth.Init()
	}
	return tea.Batch(
		m.deps.Pipeline.Start(m.deps.Session.Identity()),
		m.loadDashboard(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.auth.SetSize(w, h)
		m.dashboard.SetSize(w, h)
		m.notifications.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		// Forward to the active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	// Pipeline results. Each handler re-arms the subscription exactly once.
	case appsync.UnreadMsg:
		cmd := m.applyUnread(msg)
		return m, tea.Batch(cmd, m.deps.Pipeline.WaitForNextResult())

	case appsync.NotificationMsg:
		cmd := m.applyNotification(msg)
		return m, tea.Batch(cmd, m.deps.Pipeline.WaitForNextResult())

	case appsync.ChannelStateMsg:
		m.channel = msg.State
		return m, m.deps.Pipeline.WaitForNextResult()

	case appsync.ErrorMsg:
		cmd := m.applyError(msg)
		return m, tea.Batch(cmd, m.deps.Pipeline.WaitForNextResult())

	case markReadResultMsg:
		switch inner := msg.msg.(type) {
		case appsync.UnreadMsg:
			return m, m.applyUnread(inner)
		case appsync.ErrorMsg:
			return m, m.applyError(inner)
		}
		return m, nil

	case notificationsLoadedMsg:
		if msg.err != nil {
			return m, m.applyError(appsync.ErrorMsg{Err: msg.err, Unauthenticated: api.IsUnauthenticated(msg.err)})
		}
		return m, m.applyUnread(appsync.UnreadMsg{UserID: msg.userID, Items: msg.items, Count: msg.count})

	case dashboard.LoadedMsg:
		if msg.Err != nil {
			if api.IsUnauthenticated(msg.Err) {
				return m, m.toAuth(SessionExpiredNotice)
			}
			m.dashboard.SetError(api.Message(msg.Err))
			return m, nil
		}
		if msg.User != nil {
			m.user = msg.User
		}
		m.dashboard.SetData(msg)
		return m, nil

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	// Auth flow.
	case auth.LoginMsg:
		return m, m.login(msg)

	case auth.RegisterMsg:
		return m, m.register(msg)

	case loginResultMsg:
		if msg.err != nil {
			return m, m.auth.Failed(api.Message(msg.err))
		}
		m.status = ""
		return m, m.navigate(ViewDashboard)

	case registerResultMsg:
		if msg.err != nil {
			return m, m.auth.Failed(api.Message(msg.err))
		}
		return m, m.auth.Registered()

	case notifications.MarkReadMsg:
		if err := m.deps.Session.Authorize(); err != nil {
			return m, m.toAuth(SessionExpiredNotice)
		}
		p := m.deps.Pipeline
		id := msg.ID
		return m, func() tea.Msg { return markReadResultMsg{msg: p.MarkRead(id)()} }

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// The auth form and the palette own the keyboard.
		switch m.currentView {
		case ViewAuth:
			return m.updateActiveView(msg)
		case ViewCommand:
			if key.Matches(msg, m.keys.Back) {
				m.currentView = m.previousView
				return m, nil
			}
			return m.updateActiveView(msg)
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil
		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
			}
			return m, nil
		case key.Matches(msg, m.keys.Command):
			if !m.currentView.protected() {
				m.previousView = ViewDashboard
			} else {
				m.previousView = m.currentView
			}
			m.currentView = ViewCommand
			return m, m.commandView.Focus()
		case key.Matches(msg, m.keys.Dashboard):
			return m, m.navigate(ViewDashboard)
		case key.Matches(msg, m.keys.Notifications):
			return m, m.navigate(ViewNotifications)
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, m.keys.Logout):
			return m, m.logout()
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewAuth:
		m.auth, cmd = m.auth.Update(msg)
	case ViewNotifications:
		m.notifications, cmd = m.notifications.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	banner := m.layout.RenderBanner(m.toast)
	if m.toast == "" && m.status != "" {
		banner = theme.ErrorStyle.Render(m.status)
	}

	return m.layout.RenderWithFrame(
		m.layout.RenderHeader(m.headerTitle(), m.headerSegments()...),
		banner,
		m.renderContent(),
		m.layout.RenderStatusBar(m.keyHints()),
	)
}

func (m Model) headerTitle() string {
	if m.currentView == ViewAuth || m.unreadCount == 0 {
		return "InSync"
	}
	return fmt.Sprintf("InSync [%d new]", m.unreadCount)
}

func (m Model) headerSegments() []string {
	if m.currentView == ViewAuth {
		return nil
	}
	var segs []string
	if m.user != nil {
		segs = append(segs, theme.HeaderStyle.Render(m.user.DisplayName()))
	}
	segs = append(segs, theme.ChannelStyle(m.channel).Render("● "+m.channel.String()))
	return segs
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewAuth:
		return m.auth.View()
	case ViewDashboard:
		return m.dashboard.View()
	case ViewNotifications:
		return m.notifications.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewAuth:
		return "enter submit | ctrl+n switch form | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewNotifications:
		return "j/k move | enter/x mark read | d dashboard | r refresh | : command | ? help | q quit"
	default:
		return "n notifications | r refresh | L log out | : command | ? help | q quit"
	}
}

// navigate moves to a protected view. The session is checked every time;
// an invalid one sends the user to the auth view instead.
func (m *Model) navigate(v ViewState) tea.Cmd {
	if err := m.deps.Session.Authorize(); err != nil {
		return m.toAuth("")
	}

	m.currentView = v
	m.previousView = v
	cmds := []tea.Cmd{m.deps.Pipeline.Start(m.deps.Session.Identity())}

	switch v {
	case ViewDashboard:
		m.dashboard.SetLoading()
		cmds = append(cmds, m.loadDashboard())
	case ViewNotifications:
		cmds = append(cmds, m.loadNotifications())
	}
	return tea.Batch(cmds...)
}

// toAuth clears any remaining session and shows the login form.
func (m *Model) toAuth(notice string) tea.Cmd {
	if _, ok := m.deps.Session.Token(); ok {
		if err := m.deps.Session.Logout(); err != nil {
			m.log.Warn("logging out", zap.Error(err))
		}
	}
	m.resetSessionState()
	m.currentView = ViewAuth
	m.previousView = ViewDashboard
	return m.auth.Reset(notice)
}

func (m *Model) logout() tea.Cmd {
	if err := m.deps.Session.Logout(); err != nil {
		m.log.Warn("logging out", zap.Error(err))
	}
	return m.toAuth("")
}

func (m *Model) resetSessionState() {
	m.user = nil
	m.unreadCount = 0
	m.toast = ""
	m.status = ""
	m.channel = realtime.Disconnected
	m.dashboard.Reset()
	m.notifications.SetItems(nil, 0)
}

func (m *Model) refresh() tea.Cmd {
	if err := m.deps.Session.Authorize(); err != nil {
		return m.toAuth(SessionExpiredNotice)
	}
	m.status = ""
	return m.deps.Pipeline.RefreshAll()
}

// applyUnread shows a fresh list and count for the signed-in user.
func (m *Model) applyUnread(msg appsync.UnreadMsg) tea.Cmd {
	if msg.UserID != m.deps.Session.Identity() {
		return nil
	}
	m.unreadCount = msg.Count
	m.status = ""
	return m.notifications.SetItems(msg.Items, msg.Count)
}

func (m *Model) applyNotification(msg appsync.NotificationMsg) tea.Cmd {
	if msg.UserID != m.deps.Session.Identity() {
		return nil
	}
	m.unreadCount = msg.Count
	m.toast = NewNotificationToast
	m.toastSeq++
	seq := m.toastSeq

	cmds := []tea.Cmd{
		m.notifications.SetItems(msg.Items, msg.Count),
		tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{seq: seq} }),
	}
	// The dashboard counters were invalidated by the merge.
	if m.currentView == ViewDashboard {
		cmds = append(cmds, m.loadDashboard())
	}
	return tea.Batch(cmds...)
}

func (m *Model) applyError(msg appsync.ErrorMsg) tea.Cmd {
	if msg.Unauthenticated {
		return m.toAuth(SessionExpiredNotice)
	}
	m.status = api.Message(msg.Err)
	m.notifications.SetError(m.status)
	return nil
}

func (m Model) login(msg auth.LoginMsg) tea.Cmd {
	s, client := m.deps.Session, m.deps.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return loginResultMsg{err: s.Login(ctx, client, msg.Username, msg.Password)}
	}
}

func (m Model) register(msg auth.RegisterMsg) tea.Cmd {
	client := m.deps.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := client.Register(ctx, model.Registration{
			Email:    msg.Email,
			Username: msg.Username,
			FullName: msg.FullName,
			Password: msg.Password,
		})
		return registerResultMsg{err: err}
	}
}

// loadDashboard returns a command that loads the profile, the cached
// dashboard summary and the workspaces.
func (m Model) loadDashboard() tea.Cmd {
	s, rec, client := m.deps.Session, m.deps.Reconciler, m.deps.API
	userID := s.Identity()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		user, err := s.CurrentUser(ctx)
		if err != nil {
			return dashboard.LoadedMsg{Err: err}
		}
		summary, err := rec.DashboardSummary(ctx, userID)
		if err != nil {
			return dashboard.LoadedMsg{Err: err}
		}
		workspaces, err := client.Workspaces(ctx)
		if err != nil {
			return dashboard.LoadedMsg{Err: err}
		}
		return dashboard.LoadedMsg{User: user, Summary: summary, Workspaces: workspaces}
	}
}

// loadNotifications returns a command that reads the unread list and
// count through the cache.
func (m Model) loadNotifications() tea.Cmd {
	rec := m.deps.Reconciler
	userID := m.deps.Session.Identity()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		items, err := rec.UnreadList(ctx, userID)
		if err != nil {
			return notificationsLoadedMsg{userID: userID, err: err}
		}
		count, err := rec.UnreadCount(ctx, userID)
		if err != nil {
			return notificationsLoadedMsg{userID: userID, err: err}
		}
		return notificationsLoadedMsg{userID: userID, items: items, count: count}
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case "dashboard", "home":
		return m.navigate(ViewDashboard)
	case "notifications", "inbox":
		return m.navigate(ViewNotifications)
	case "refresh", "sync":
		return m.refresh()
	case "logout":
		return m.logout()
	case "help":
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil
	case "quit", "q":
		return tea.Quit
	default:
		m.status = fmt.Sprintf("unknown command %q", cmd)
		return nil
	}
}
