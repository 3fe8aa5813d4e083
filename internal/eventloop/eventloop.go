// Package eventloop implements the level-triggered poll-based
// dispatch loop the supervisor's parent and monitor each run over
// their small, fixed set of descriptors (backchannel, PTY leader,
// controlling TTY, signal pipe, error pipe): an event registry that
// owns the poll set and dispatches by tag, with no callback closures
// borrowing the registry.
package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Handler reacts to a descriptor becoming ready. revents carries the
// raw poll() event bits (POLLIN, POLLOUT, POLLHUP, ...); returning an
// error stops the loop and propagates the error to Run's caller.
type Handler func(revents int16) error

type registration struct {
	fd      int
	events  int16
	handler Handler
}

// Loop owns the poll set; it is not safe for concurrent use from
// multiple goroutines; each supervisor process runs exactly one.
type Loop struct {
	regs     []registration
	wakeR    int
	wakeW    int
	stopped  bool
}

// New creates a Loop with its own internal wake pipe, so Stop can be
// called from a signal handler or another goroutine without racing
// the poll() call.
func New() (*Loop, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("eventloop: wake pipe: %w", err)
	}
	l := &Loop{wakeR: fds[0], wakeW: fds[1]}
	l.regs = append(l.regs, registration{
		fd:     l.wakeR,
		events: unix.POLLIN,
		handler: func(int16) error {
			l.stopped = true
			return nil
		},
	})
	return l, nil
}

// Add registers fd for events (POLLIN/POLLOUT/...); handler is
// invoked with the descriptor's revents whenever poll() reports it
// ready. Registering the same fd twice replaces its handler.
func (l *Loop) Add(fd int, events int16, handler Handler) {
	for i := range l.regs {
		if l.regs[i].fd == fd {
			l.regs[i].events = events
			l.regs[i].handler = handler
			return
		}
	}
	l.regs = append(l.regs, registration{fd: fd, events: events, handler: handler})
}

// Remove drops fd from the poll set. It is a no-op if fd was never
// added.
func (l *Loop) Remove(fd int) {
	for i := range l.regs {
		if l.regs[i].fd == fd {
			l.regs = append(l.regs[:i], l.regs[i+1:]...)
			return
		}
	}
}

// Stop wakes a blocked Run call and causes it to return nil once the
// current dispatch pass finishes. Safe to call from any goroutine.
func (l *Loop) Stop() {
	var b [1]byte
	_, _ = unix.Write(l.wakeW, b[:])
}

// Close releases the wake pipe. Call after Run has returned.
func (l *Loop) Close() error {
	err1 := unix.Close(l.wakeR)
	err2 := unix.Close(l.wakeW)
	if err1 != nil {
		return err1
	}
	return err2
}

// Run polls the registered set until Stop is called or a handler
// returns an error. Each iteration is level-triggered: a descriptor
// that is still readable/writable after its handler runs is
// dispatched again on the next iteration, so a handler need not drain
// its descriptor in one pass.
func (l *Loop) Run() error {
	for !l.stopped {
		pollfds := make([]unix.PollFd, len(l.regs))
		for i, r := range l.regs {
			pollfds[i] = unix.PollFd{Fd: int32(r.fd), Events: r.events}
		}
		n, err := unix.Poll(pollfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("eventloop: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		for _, pfd := range pollfds {
			if pfd.Revents == 0 {
				continue
			}
			if pfd.Fd == int32(l.wakeR) {
				var b [64]byte
				_, _ = unix.Read(l.wakeR, b[:])
			}
			// Look the handler up by fd, not snapshot index: a
			// handler may Add/Remove registrations mid-pass.
			h := l.handlerFor(int(pfd.Fd))
			if h == nil {
				continue
			}
			if err := h(pfd.Revents); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loop) handlerFor(fd int) Handler {
	for i := range l.regs {
		if l.regs[i].fd == fd {
			return l.regs[i].handler
		}
	}
	return nil
}
