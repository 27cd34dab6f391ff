package commands

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/colonyops/shopwire/internal/core/notify"
)

// termBell rings the terminal bell. It stays silent when the output is not a
// terminal so piped output is not polluted with control characters.
type termBell struct {
	w   io.Writer
	tty bool
}

func newTermBell(w io.Writer) *termBell {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &termBell{w: w, tty: tty}
}

func (b *termBell) Ring(notify.Level) {
	if b.tty {
		_, _ = io.WriteString(b.w, "\a")
	}
}
