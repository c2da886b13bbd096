// Structured logging for the reactor package.
//
// Every component that can log accepts a *logiface.Logger[*izerolog.Event]
// via a functional option (WithLogger / WithServerLogger); absent an
// explicit logger, components fall back to disabledLogger, a logger with
// level set below Emergency so every call is a no-op. Each Logger is
// owned per-component rather than shared as package-wide global state.

package reactor

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// disabledLogger discards everything; it is the default for every
// component that is not given WithLogger/WithServerLogger explicitly.
var disabledLogger = logiface.New[*izerolog.Event](
	izerolog.WithZerolog(zerolog.Nop()),
	logiface.WithLevel[*izerolog.Event](logiface.LevelDisabled),
)

// NewZerologLogger returns a Logger writing newline-delimited JSON to w at
// the given level, using zerolog as the backend and izerolog as the
// binding. A nil w defaults to os.Stderr.
func NewZerologLogger(w *os.File, level logiface.Level) *logiface.Logger[*izerolog.Event] {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}
