package output

import (
	"io"
	"os"
	"runtime"

	"github.com/mattn/go-isatty"
)

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// supportsColors checks the environment for color preferences.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
