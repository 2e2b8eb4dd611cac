package auth

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestToggleSwitchesForms(t *testing.T) {
	m := New(80, 24)
	assert.Equal(t, ModeLogin, m.Mode())
	assert.Contains(t, m.View(), "Sign in to InSync")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Equal(t, ModeRegister, m.Mode())
	assert.Contains(t, m.View(), "Create an InSync account")
	assert.Contains(t, m.View(), "Email")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Equal(t, ModeLogin, m.Mode())
}

func TestRegisteredShowsNoticeAndKeepsUsername(t *testing.T) {
	m := New(80, 24)
	m.Toggle()
	m.fb.username = "grace"
	m.fb.password = "pw"

	m.Registered()
	assert.Equal(t, ModeLogin, m.Mode())
	assert.Contains(t, m.View(), RegisteredNotice)
	assert.Equal(t, "grace", m.fb.username)
	assert.Empty(t, m.fb.password)
}

func TestFailedShowsErrorAndReopensForm(t *testing.T) {
	m := New(80, 24)
	m.pending = true
	assert.Contains(t, m.View(), "Please wait")

	m.Failed("Incorrect username or password")
	assert.False(t, m.Pending())
	assert.Contains(t, m.View(), "Incorrect username or password")

	m.Reset("")
	assert.NotContains(t, m.View(), "Incorrect username or password")
}

func TestSubmitCarriesTrimmedFields(t *testing.T) {
	m := New(80, 24)
	m.fb.username = "  ada "
	m.fb.password = " pw "
	assert.Equal(t, LoginMsg{Username: "ada", Password: " pw "}, m.submit()())

	m.Toggle()
	m.fb.email = " ada@example.com"
	m.fb.fullName = "Ada Lovelace "
	assert.Equal(t, RegisterMsg{
		Email:    "ada@example.com",
		Username: "ada",
		FullName: "Ada Lovelace",
		Password: " pw ",
	}, m.submit()())
}
