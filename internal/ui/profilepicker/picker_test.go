package profilepicker

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/qprofile/internal/profile"
)

func testProfiles() []profile.Profile {
	return []profile.Profile{
		{Name: "alpha", AccountID: "111111111111", Region: "us-east-1", ARN: "arn:aws:codewhisperer:us-east-1:111111111111:profile/AAAAAAAAAAAA"},
		{Name: "beta", AccountID: "222222222222", Region: "eu-central-1", ARN: "arn:aws:codewhisperer:eu-central-1:222222222222:profile/BBBBBBBBBBBB"},
		{Name: "gamma", AccountID: "333333333333", Region: "us-east-1", ARN: "arn:aws:codewhisperer:us-east-1:333333333333:profile/CCCCCCCCCCCC"},
	}
}

func press(m Model, msg tea.KeyMsg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNew_CursorStartsOnActive(t *testing.T) {
	ps := testProfiles()
	m := New("Select profile", ps, ps[1].ARN)

	got, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "beta", got.Name)

	m = New("Select profile", ps, "arn:unknown")
	got, _ = m.Selected()
	assert.Equal(t, "alpha", got.Name)
}

func TestUpdate_Navigation(t *testing.T) {
	m := New("t", testProfiles(), "")

	m, _ = press(m, runes("j"))
	assert.Equal(t, 1, m.selected)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m.selected)
	m, _ = press(m, runes("j"))
	assert.Equal(t, 2, m.selected, "stays at bottom")

	m, _ = press(m, runes("k"))
	assert.Equal(t, 1, m.selected)
	m, _ = press(m, runes("g"))
	assert.Equal(t, 0, m.selected)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selected, "stays at top")
	m, _ = press(m, runes("G"))
	assert.Equal(t, 2, m.selected)
}

func TestUpdate_EnterChooses(t *testing.T) {
	m := New("t", testProfiles(), "")
	m, _ = press(m, runes("j"))

	_, ok := m.Chosen()
	require.False(t, ok)

	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	got, ok := m.Chosen()
	require.True(t, ok)
	assert.Equal(t, "beta", got.Name)
	assert.Empty(t, m.View())
}

func TestUpdate_EscCancels(t *testing.T) {
	m := New("t", testProfiles(), "")
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.True(t, m.Cancelled())

	_, ok := m.Chosen()
	assert.False(t, ok)
}

func TestUpdate_EnterOnEmptyIsIgnored(t *testing.T) {
	m := New("t", nil, "")
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	_, ok := m.Chosen()
	assert.False(t, ok)
}

func TestView_MarksActiveAndCursor(t *testing.T) {
	ps := testProfiles()
	view := New("Select profile", ps, ps[2].ARN).SetBoxWidth(60).View()

	assert.Contains(t, view, "Select profile")
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "beta")
	assert.Contains(t, view, "(active)")
	assert.Contains(t, view, ">")
}

func TestUpdate_WindowSizeClampsWidth(t *testing.T) {
	m := New("t", testProfiles(), "")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 28, next.(Model).boxWidth)
}

func TestView_ShowsKeyHelp(t *testing.T) {
	view := New("t", testProfiles(), "").View()
	assert.Contains(t, view, "select")
	assert.Contains(t, view, "cancel")
	assert.Len(t, DefaultKeyMap().ShortHelp(), 4)
}
