//go:build !windows

package main

import (
	"syscall"

	"github.com/pkg/errors"
	"github.com/pkg/term/termios"
)

// maybeSetRawIO switches stdin to non-canonical, unechoed raw mode so the
// debugger can read single keystrokes without waiting for Enter. Grounded
// on db47h-ngaro/cmd/retro/term_linux.go's setRawIO, trimmed to the
// single-character reads this debugger needs.
func maybeSetRawIO(enabled bool) (func(), error) {
	if !enabled {
		return nil, nil
	}
	var tios syscall.Termios
	if err := termios.Tcgetattr(0, &tios); err != nil {
		return nil, errors.Wrap(err, "Tcgetattr failed")
	}
	raw := tios
	raw.Lflag &^= syscall.ICANON | syscall.ECHO
	raw.Cc[syscall.VMIN] = 1
	raw.Cc[syscall.VTIME] = 0
	if err := termios.Tcsetattr(0, termios.TCSANOW, &raw); err != nil {
		termios.Tcsetattr(0, termios.TCSANOW, &tios)
		return nil, errors.Wrap(err, "Tcsetattr failed")
	}
	return func() {
		termios.Tcsetattr(0, termios.TCSANOW, &tios)
	}, nil
}
