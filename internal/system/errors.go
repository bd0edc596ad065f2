package system

import (
	"errors"
	"fmt"
)

// ErrNoDownload indicates a download-completion signal with no library
// download in progress.
var ErrNoDownload = errors.New("system: no library download in progress")

// TransitionError reports a rejected state edge. The machine's state is
// unchanged when one is returned.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("system: illegal transition %s -> %s", e.From, e.To)
}
