package auth

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/theme"
)

// Mode selects which form is shown.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
)

// RegisteredNotice is shown on the login form after a successful register.
const RegisteredNotice = "Account created! Please log in."

// LoginMsg is sent when the login form is submitted.
type LoginMsg struct {
	Username string
	Password string
}

// RegisterMsg is sent when the register form is submitted.
type RegisterMsg struct {
	Email    string
	Username string
	FullName string
	Password string
}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	email    string
	username string
	fullName string
	password string
}

// Model is the sign-in view. It owns a huh form for either login or
// register and reports submissions; the caller performs the request and
// reports back with Failed or Registered.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	mode    Mode
	pending bool
	notice  string
	err     string
	width   int
	height  int
}

// New creates an auth view showing the login form.
func New(width, height int) Model {
	m := Model{fb: &formBindings{}, width: width, height: height}
	m.form = m.buildForm()
	return m
}

// Init initializes the current form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Mode returns the form currently shown.
func (m Model) Mode() Mode { return m.mode }

// Pending reports whether a submission is awaiting its result.
func (m Model) Pending() bool { return m.pending }

// Reset shows an empty login form with an optional notice.
func (m *Model) Reset(notice string) tea.Cmd {
	m.fb.password = ""
	m.fb.email = ""
	m.fb.fullName = ""
	m.mode = ModeLogin
	m.notice = notice
	return m.restart("")
}

// Registered switches to the login form after a successful register,
// keeping the username.
func (m *Model) Registered() tea.Cmd {
	m.fb.password = ""
	m.mode = ModeLogin
	m.notice = RegisteredNotice
	return m.restart("")
}

// Failed reopens the current form with msg shown above it.
func (m *Model) Failed(msg string) tea.Cmd {
	m.fb.password = ""
	m.notice = ""
	return m.restart(msg)
}

// Toggle switches between login and register.
func (m *Model) Toggle() tea.Cmd {
	if m.mode == ModeLogin {
		m.mode = ModeRegister
	} else {
		m.mode = ModeLogin
	}
	m.notice = ""
	return m.restart("")
}

func (m *Model) restart(errMsg string) tea.Cmd {
	m.pending = false
	m.err = errMsg
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the auth view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.pending {
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "ctrl+n" {
		cmd := m.Toggle()
		return m, cmd
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.pending = true
		return m, m.submit()
	case huh.StateAborted:
		// esc clears the form rather than leaving the gated app.
		return m, m.restart("")
	}
	return m, cmd
}

func (m Model) submit() tea.Cmd {
	fb := *m.fb
	if m.mode == ModeRegister {
		return func() tea.Msg {
			return RegisterMsg{
				Email:    strings.TrimSpace(fb.email),
				Username: strings.TrimSpace(fb.username),
				FullName: strings.TrimSpace(fb.fullName),
				Password: fb.password,
			}
		}
	}
	return func() tea.Msg {
		return LoginMsg{Username: strings.TrimSpace(fb.username), Password: fb.password}
	}
}

// View renders the auth form.
func (m Model) View() string {
	titleText := "Sign in to InSync"
	switchHint := "ctrl+n create an account"
	if m.mode == ModeRegister {
		titleText = "Create an InSync account"
		switchHint = "ctrl+n back to sign in"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render(titleText)}
	if m.notice != "" {
		parts = append(parts, theme.SuccessStyle.Render(m.notice))
	}
	if m.err != "" {
		parts = append(parts, theme.ErrorStyle.Render(m.err))
	}
	if m.pending {
		parts = append(parts, theme.HelpStyle.Render("Please wait..."))
	} else {
		parts = append(parts, m.form.View(), theme.HelpStyle.Render(switchHint))
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m *Model) buildForm() *huh.Form {
	var fields []huh.Field
	if m.mode == ModeRegister {
		fields = append(fields,
			huh.NewInput().
				Title("Email").
				Value(&m.fb.email).
				Validate(required("email")),
			huh.NewInput().
				Title("Full name").
				Value(&m.fb.fullName).
				Validate(required("full name")),
		)
	}
	fields = append(fields,
		huh.NewInput().
			Title("Username").
			Value(&m.fb.username).
			Validate(required("username")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&m.fb.password).
			Validate(required("password")),
	)

	return huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false).
		WithWidth(m.formWidth())
}

func (m *Model) formWidth() int {
	w := m.width - 4
	if w > 60 {
		w = 60
	}
	if w < 20 {
		w = 20
	}
	return w
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(name + " is required")
		}
		return nil
	}
}
