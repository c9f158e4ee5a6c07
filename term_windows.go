//go:build windows

package main

import "github.com/pkg/errors"

// maybeSetRawIO has no raw-mode implementation on this platform; the
// debugger falls back to its line-buffered bufio.Reader prompt, mirroring
// db47h-ngaro/cmd/retro/term_windows.go's stub.
func maybeSetRawIO(enabled bool) (func(), error) {
	return nil, errors.New("raw IO not supported on this platform")
}
