package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"quiz-sync/internal/app"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/health"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	intentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)
)

func qualityStyle(q domain.Quality) lipgloss.Style {
	switch q {
	case domain.QualityLow:
		return errStyle
	case domain.QualityMedium:
		return warnStyle
	default:
		return okStyle
	}
}

func renderSession(sess *domain.Session) string {
	if sess == nil {
		return labelStyle.Render("no session loaded")
	}
	question := "not started"
	if sess.CurrentQuestionIndex >= 0 {
		question = fmt.Sprintf("%d/%d", sess.CurrentQuestionIndex+1, len(sess.Questions))
	}
	return fmt.Sprintf("%s  %s %s  %s %s  %s %s",
		headerStyle.Render(sess.Name),
		labelStyle.Render("state"), string(sess.State),
		labelStyle.Render("question"), question,
		labelStyle.Render("theme"), sess.Config.Theme)
}

func renderRoster(members []domain.Member, own string) string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Name == own {
			names = append(names, okStyle.Render(m.Name))
			continue
		}
		names = append(names, m.Name)
	}
	return fmt.Sprintf("%s %d  %s", labelStyle.Render("players"), len(members), strings.Join(names, ", "))
}

func renderIntent(i app.Intent) string {
	return intentStyle.Render("→ "+i.Kind.String()) + " " + labelStyle.Render(i.Session)
}

func renderStatus(s health.Status, m *health.Monitor) string {
	switch s {
	case health.StatusAvailable:
		q := m.Quality()
		return fmt.Sprintf("%s %s %s", okStyle.Render("online"), labelStyle.Render(m.RTT().String()), qualityStyle(q).Render(q.String()))
	case health.StatusUnavailable:
		return errStyle.Render("offline")
	default:
		return labelStyle.Render("connecting")
	}
}

// consolePrompter prints the recovery prompt instead of showing a modal.
type consolePrompter struct {
	out io.Writer
}

func (p consolePrompter) Show() {
	fmt.Fprintln(p.out, warnStyle.Render("connection lost, waiting for the server to come back…"))
}

func (p consolePrompter) Dismiss() {
	fmt.Fprintln(p.out, okStyle.Render("connection restored"))
}
