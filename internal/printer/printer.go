// Package printer writes styled status lines for CLI commands.
package printer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

type ctxKey struct{}

// Printer renders leveled lines. Colors are dropped when w is not a terminal.
type Printer struct {
	w       io.Writer
	success lipgloss.Style
	info    lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
}

// New creates a printer writing to w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		success: r.NewStyle().Foreground(lipgloss.Color("#9ece6a")).Bold(true),
		info:    r.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#e0af68")).Bold(true),
		err:     r.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#565f89")),
	}
}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the printer stored in ctx, or one writing to stdout.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stdout)
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Successf(format string, args ...any) {
	p.line(p.success.Render("✔"), format, args...)
}

func (p *Printer) Infof(format string, args ...any) {
	p.line(p.info.Render("•"), format, args...)
}

func (p *Printer) Warnf(format string, args ...any) {
	p.line(p.warn.Render("!"), format, args...)
}

func (p *Printer) Errorf(format string, args ...any) {
	p.line(p.err.Render("✘"), format, args...)
}

// Muted renders s in the dimmed style.
func (p *Printer) Muted(s string) string { return p.muted.Render(s) }

// Label renders s in the style of level: success, info, warning or error.
func (p *Printer) Label(level, s string) string {
	switch level {
	case "success":
		return p.success.Render(s)
	case "warning":
		return p.warn.Render(s)
	case "error":
		return p.err.Render(s)
	default:
		return p.info.Render(s)
	}
}

func (p *Printer) line(icon, format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "%s %s\n", icon, fmt.Sprintf(format, args...))
}
