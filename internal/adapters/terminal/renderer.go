// Package terminal draws a conversation on an ANSI terminal. The turn in
// progress lives in a "live region" below the committed history that is
// redrawn in place on every update.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

const defaultWidth = 80

var (
	userLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	botLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	streamStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// Renderer implements domain.Renderer on an io.Writer.
type Renderer struct {
	mu    sync.Mutex
	out   io.Writer
	width int
	md    *glamour.TermRenderer

	live int // lines currently occupied by the live region
}

type Option func(*rendererConfig)

type rendererConfig struct {
	width int
	style string
}

func WithWidth(w int) Option {
	return func(c *rendererConfig) { c.width = w }
}

// WithMarkdownStyle picks a glamour style: "auto", "dark", "light", "notty"...
func WithMarkdownStyle(style string) Option {
	return func(c *rendererConfig) { c.style = style }
}

func NewRenderer(out io.Writer, opts ...Option) *Renderer {
	cfg := rendererConfig{width: defaultWidth, style: "auto"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.width <= 0 {
		cfg.width = defaultWidth
	}

	r := &Renderer{out: out, width: cfg.width}

	styleOpt := glamour.WithAutoStyle()
	if cfg.style != "auto" {
		styleOpt = glamour.WithStandardStyle(cfg.style)
	}
	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(cfg.width))
	if err != nil {
		observability.WithFields("component", "terminal").Warn("markdown renderer unavailable, using plain text", "error", err)
	} else {
		r.md = md
	}
	return r
}

func (r *Renderer) ShowPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawLive(dimStyle.Render("Rise Up is typing..."))
}

func (r *Renderer) ClearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eraseLive()
}

// ShowStreamingPlaceholder draws the label alone; text follows with the
// first update.
func (r *Renderer) ShowStreamingPlaceholder() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawLive(botLabel.Render("Rise Up"))
}

func (r *Renderer) UpdateStreamingText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawLive(botLabel.Render("Rise Up") + "\n" + streamStyle.Width(r.width).Render(text))
}

func (r *Renderer) RemovePlaceholder() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eraseLive()
}

func (r *Renderer) CommitTurn(turn domain.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var block string
	switch turn.Role {
	case domain.RoleUser:
		block = userLabel.Render("You") + "\n" + lipgloss.NewStyle().Width(r.width).Render(turn.Text)
	default:
		block = botLabel.Render("Rise Up") + "\n" + r.markdown(turn.Text)
	}
	r.write(strings.TrimRight(block, "\n") + "\n\n")
}

// Reset clears the screen, used when the history is wiped.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live = 0
	r.write(ansi.EraseEntireScreen + ansi.CursorHomePosition)
	r.write(dimStyle.Render("history cleared") + "\n\n")
}

func (r *Renderer) markdown(text string) string {
	if r.md != nil {
		if out, err := r.md.Render(text); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	return lipgloss.NewStyle().Width(r.width).Render(text)
}

// drawLive replaces the live region with block.
func (r *Renderer) drawLive(block string) {
	r.eraseLive()
	block = strings.TrimRight(block, "\n")
	r.write(block + "\n")
	r.live = strings.Count(block, "\n") + 1
}

func (r *Renderer) eraseLive() {
	if r.live == 0 {
		return
	}
	r.write(ansi.CursorUp(r.live) + "\r" + ansi.EraseScreenBelow)
	r.live = 0
}

func (r *Renderer) write(s string) {
	if _, err := io.WriteString(r.out, s); err != nil {
		observability.Logger().Debug("terminal write failed", "error", err)
	}
}

// Bell rings the terminal bell for new messages. It stays silent when sound
// effects are off.
type Bell struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
}

func NewBell(out io.Writer, enabled bool) *Bell {
	return &Bell{out: out, enabled: enabled}
}

func (b *Bell) SetEnabled(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = on
}

// Notify rings for CueMessage only; a terminal has no quieter click sound.
func (b *Bell) Notify(kind domain.CueKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled || kind != domain.CueMessage {
		return
	}
	fmt.Fprint(b.out, string(rune(ansi.BEL)))
}
