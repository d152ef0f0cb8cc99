// Package profilepicker is a small terminal picker for choosing the active
// profile.
package profilepicker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/qprofile/internal/profile"
)

var (
	titleColor     = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	borderColor    = lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#4B5563"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	indicatorColor = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
	activeColor    = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
)

// Model holds the picker state.
type Model struct {
	title     string
	profiles  []profile.Profile
	activeARN string
	selected  int
	boxWidth  int
	keys      KeyMap
	help      help.Model

	chosen    bool
	cancelled bool
}

// New creates a picker over profiles. The cursor starts on activeARN when
// it is present.
func New(title string, profiles []profile.Profile, activeARN string) Model {
	m := Model{
		title:     title,
		profiles:  profiles,
		activeARN: activeARN,
		keys:      DefaultKeyMap(),
		help:      help.New(),
	}
	for i, p := range profiles {
		if p.ARN == activeARN {
			m.selected = i
			break
		}
	}
	return m
}

// SetBoxWidth sets the width of the picker box.
func (m Model) SetBoxWidth(width int) Model {
	m.boxWidth = width
	return m
}

// Selected returns the profile under the cursor.
func (m Model) Selected() (profile.Profile, bool) {
	if m.selected >= 0 && m.selected < len(m.profiles) {
		return m.profiles[m.selected], true
	}
	return profile.Profile{}, false
}

// Chosen returns the confirmed profile, if the user pressed enter.
func (m Model) Chosen() (profile.Profile, bool) {
	if !m.chosen {
		return profile.Profile{}, false
	}
	return m.Selected()
}

// Cancelled reports whether the picker was dismissed.
func (m Model) Cancelled() bool {
	return m.cancelled
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if m.boxWidth == 0 || m.boxWidth > msg.Width-2 {
			m.boxWidth = max(msg.Width-2, 20)
		}
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.profiles)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Top):
			m.selected = 0
		case key.Matches(msg, m.keys.Bottom):
			m.selected = max(len(m.profiles)-1, 0)
		case key.Matches(msg, m.keys.Select):
			if len(m.profiles) > 0 {
				m.chosen = true
				return m, tea.Quit
			}
		case key.Matches(msg, m.keys.Cancel):
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func label(p profile.Profile) string {
	return fmt.Sprintf("%s  %s", p.Name, lipgloss.NewStyle().Foreground(mutedColor).Render(p.AccountID+" "+p.Region))
}

// View implements tea.Model.
func (m Model) View() string {
	if m.chosen || m.cancelled {
		return ""
	}

	width := m.boxWidth
	if width == 0 {
		width = 48
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(titleColor).PaddingLeft(1)
	indicator := lipgloss.NewStyle().Bold(true).Foreground(indicatorColor)
	active := lipgloss.NewStyle().Foreground(activeColor)

	var rows strings.Builder
	for i, p := range m.profiles {
		line := label(p)
		if p.ARN == m.activeARN {
			line += " " + active.Render("(active)")
		}
		if i == m.selected {
			line = indicator.Render(">") + lipgloss.NewStyle().Bold(true).Render(line)
		} else {
			line = " " + line
		}
		rows.WriteString(line)
		if i < len(m.profiles)-1 {
			rows.WriteString("\n")
		}
	}

	divider := lipgloss.NewStyle().Foreground(borderColor).Render(strings.Repeat("─", width))
	helpLine := lipgloss.NewStyle().PaddingLeft(1).Render(m.help.View(m.keys))

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(width)

	return box.Render(titleStyle.Render(m.title)+"\n"+divider+"\n"+rows.String()) + "\n" + helpLine + "\n"
}

// Run shows the picker on out and returns the chosen profile. ok is false
// when the user cancelled.
func Run(ctx context.Context, title string, profiles []profile.Profile, activeARN string, in io.Reader, out io.Writer) (profile.Profile, bool, error) {
	prog := tea.NewProgram(New(title, profiles, activeARN),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := prog.Run()
	if err != nil {
		return profile.Profile{}, false, fmt.Errorf("running picker: %w", err)
	}
	p, ok := final.(Model).Chosen()
	return p, ok, nil
}
