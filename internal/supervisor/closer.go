package supervisor

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// defaultCloseFrom is the lowest fd considered "ours" absent an
// explicit -C/--close-from override: stdin/stdout/stderr are always
// kept, everything at or above this is a candidate for closing.
const defaultCloseFrom = 3

// Closer enforces the file-descriptor hygiene invariant: before
// execve, every descriptor the core opened that isn't explicitly
// whitelisted is closed, so none of them leak into the executed
// command.
type Closer struct {
	whitelist map[int]struct{}
	closeFrom int
}

// NewCloser builds a Closer that keeps 0, 1, 2, any fd in keep (e.g.
// the PTY follower), and closeFrom as the floor below which
// descriptors are never touched (the -C/--close-from value; 0 means
// "use the default of 3").
func NewCloser(closeFrom int, keep ...int) *Closer {
	if closeFrom <= 0 {
		closeFrom = defaultCloseFrom
	}
	c := &Closer{whitelist: map[int]struct{}{0: {}, 1: {}, 2: {}}, closeFrom: closeFrom}
	for _, fd := range keep {
		c.whitelist[fd] = struct{}{}
	}
	return c
}

// CloseAllExcept scans /proc/self/fd (falling back to a bounded sweep
// of the fd table when /proc is unavailable) and closes every open
// descriptor at or above closeFrom that isn't whitelisted.
func (c *Closer) CloseAllExcept() error {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return c.sweepClose(openMaxGuess)
	}
	for _, e := range entries {
		fd, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		c.maybeClose(fd)
	}
	return nil
}

// openMaxGuess bounds the fallback sweep; real deployments always
// have /proc, so this path only exercises in restricted test
// sandboxes.
const openMaxGuess = 1024

func (c *Closer) sweepClose(max int) error {
	for fd := 0; fd < max; fd++ {
		c.maybeClose(fd)
	}
	return nil
}

func (c *Closer) maybeClose(fd int) {
	if fd < c.closeFrom {
		return
	}
	if _, keep := c.whitelist[fd]; keep {
		return
	}
	_ = unix.Close(fd)
}
