package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Info describes a running server for display.
type Info struct {
	Version   string
	Container string
	Image     string
	Addr      string
	Port      int
	Variant   string
	Runtime   string
	Storage   string
	Started   time.Time
}

type tickMsg time.Time

// StatusModel is a bubbletea model that shows a running server until the
// user quits with q, esc or ctrl+c.
type StatusModel struct {
	theme  Theme
	info   Info
	uptime time.Duration
	done   bool
}

// NewStatusModel returns a model for info.
func NewStatusModel(info Info, theme Theme) *StatusModel {
	return &StatusModel{theme: theme, info: info}
}

func (m *StatusModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
	case tickMsg:
		if !m.info.Started.IsZero() {
			m.uptime = time.Time(msg).Sub(m.info.Started).Truncate(time.Second)
		}
		return m, tick()
	}
	return m, nil
}

func (m *StatusModel) View() string {
	if m.done {
		return m.theme.Muted.Render("stopping "+m.info.Container+"...") + "\n"
	}
	var b strings.Builder
	b.WriteString(RenderInfo(m.theme, m.info))
	if m.uptime > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.Label.Render(pad("Uptime")) + m.theme.Value.Render(m.uptime.String()))
	}
	card := m.theme.Card.Render(b.String())
	help := m.theme.Muted.Render("press ") + m.theme.Key.Render("q") + m.theme.Muted.Render(" to stop and remove the container")
	return card + "\n" + help + "\n"
}

// Done reports whether the user asked to quit.
func (m *StatusModel) Done() bool {
	return m.done
}

// RunStatus shows the status card on out until the user quits or ctx ends.
func RunStatus(ctx context.Context, in io.Reader, out io.Writer, info Info) error {
	model := NewStatusModel(info, NewTheme(SupportsColor(out)))
	prog := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))
	_, err := prog.Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// RenderInfo formats info as aligned label/value lines.
func RenderInfo(theme Theme, info Info) string {
	title := "redisbox"
	if v := strings.TrimSpace(info.Version); v != "" {
		title += " " + v
	}
	lines := []string{theme.Title.Render(title)}
	add := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		lines = append(lines, theme.Label.Render(pad(label))+theme.Value.Render(value))
	}
	add("Address", info.Addr)
	add("Container", info.Container)
	add("Image", info.Image)
	add("Variant", info.Variant)
	add("Runtime", info.Runtime)
	add("Storage", info.Storage)
	if info.Port > 0 {
		add("Connect", fmt.Sprintf("redis-cli -p %d", info.Port))
	}
	return strings.Join(lines, "\n")
}

func pad(label string) string {
	return fmt.Sprintf("%-10s: ", label)
}
