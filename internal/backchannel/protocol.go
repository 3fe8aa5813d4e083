// Package backchannel implements the framed message protocol the
// supervisor's parent and monitor processes use to coordinate
// command lifecycle and signal delivery across a SOCK_STREAM
// socketpair.
package backchannel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// frameLen is one tag byte plus one native-endian uint32 payload.
const frameLen = 5

// ErrShortRead is returned when the peer closed its end before a
// full frame arrived; the caller treats it as end-of-conversation,
// not a transport failure.
var ErrShortRead = errors.New("backchannel: short read")

// Conn is one end of a backchannel socketpair.
type Conn struct {
	f *os.File
}

// NewPair creates a connected SOCK_STREAM socketpair and wraps each
// end in a Conn; unix.Socketpair is used instead of net.Pipe because
// the pair must survive a fork, which an in-process net.Pipe cannot.
func NewPair() (parent *Conn, monitor *Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("backchannel: socketpair: %w", err)
	}
	return &Conn{f: os.NewFile(uintptr(fds[0]), "backchannel-parent")},
		&Conn{f: os.NewFile(uintptr(fds[1]), "backchannel-monitor")}, nil
}

// FromFile wraps an inherited descriptor (e.g. one passed to a
// re-exec'd monitor process via ExtraFiles) as a Conn.
func FromFile(f *os.File) *Conn { return &Conn{f: f} }

// File exposes the underlying descriptor so a caller can pass it to
// exec.Cmd.ExtraFiles when spawning the other end of the pair.
func (c *Conn) File() *os.File { return c.f }

// Fd exposes the raw descriptor so the supervisor's fd-closer and
// poll set can reference it.
func (c *Conn) Fd() int { return int(c.f.Fd()) }

func (c *Conn) Close() error { return c.f.Close() }

// writeFrame blocks until the whole frame is written; the protocol
// makes no use of MSG_DONTWAIT outside the signal handler's self-pipe
// path.
func (c *Conn) writeFrame(tag byte, payload uint32) error {
	var buf [frameLen]byte
	buf[0] = tag
	binary.NativeEndian.PutUint32(buf[1:], payload)
	_, err := c.f.Write(buf[:])
	return err
}

// readFrame reads exactly one frame, or ErrShortRead if the peer
// closed mid-frame or before sending one at all.
func (c *Conn) readFrame() (tag byte, payload uint32, err error) {
	var buf [frameLen]byte
	n, err := readFull(c.f, buf[:])
	if n < frameLen {
		if err == nil {
			err = ErrShortRead
		} else {
			err = fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		return 0, 0, err
	}
	return buf[0], binary.NativeEndian.Uint32(buf[1:]), nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// Parent-to-monitor tags.
const (
	tagExecCommand byte = 0
	tagSignal      byte = 1
)

// Monitor-to-parent tags.
const (
	tagIoError     byte = 0
	tagCommandExit byte = 1
	tagCommandTerm byte = 2
	tagCommandStop byte = 3
	tagCommandPid  byte = 4
)

// ParentMessageKind names the shape of a decoded message read on the
// monitor's side of the pair (sent by the parent).
type ParentMessageKind int

const (
	ExecCommand ParentMessageKind = iota
	Signal
)

// ParentMessage is a decoded parent->monitor frame.
type ParentMessage struct {
	Kind      ParentMessageKind
	SignalNum int
}

// SendExecCommand grants the monitor permission to fork the command,
// sent once both ends have closed their copy of the PTY follower.
func SendExecCommand(c *Conn) error {
	return c.writeFrame(tagExecCommand, 0)
}

// SendSignal asks the monitor to deliver num to the command's process
// group.
func SendSignal(c *Conn, num int) error {
	return c.writeFrame(tagSignal, uint32(num))
}

// RecvParentMessage is called on the monitor's end.
func RecvParentMessage(c *Conn) (ParentMessage, error) {
	tag, payload, err := c.readFrame()
	if err != nil {
		return ParentMessage{}, err
	}
	switch tag {
	case tagExecCommand:
		return ParentMessage{Kind: ExecCommand}, nil
	case tagSignal:
		return ParentMessage{Kind: Signal, SignalNum: int(payload)}, nil
	default:
		return ParentMessage{}, fmt.Errorf("backchannel: unknown parent tag %d", tag)
	}
}

// MonitorMessageKind names the shape of a decoded message read on
// the parent's side of the pair (sent by the monitor).
type MonitorMessageKind int

const (
	IoError MonitorMessageKind = iota
	CommandExit
	CommandTerm
	CommandStop
	CommandPid
	ShortRead
)

// MonitorMessage is a decoded monitor->parent frame. ShortRead is
// synthesized locally by RecvMonitorMessage and never travels on the
// wire.
type MonitorMessage struct {
	Kind  MonitorMessageKind
	Value int // errno, exit code, signal number, or pid depending on Kind
}

func SendIoError(c *Conn, errno int) error     { return c.writeFrame(tagIoError, uint32(errno)) }
func SendCommandExit(c *Conn, code int) error  { return c.writeFrame(tagCommandExit, uint32(code)) }
func SendCommandTerm(c *Conn, sig int) error   { return c.writeFrame(tagCommandTerm, uint32(sig)) }
func SendCommandStop(c *Conn, sig int) error   { return c.writeFrame(tagCommandStop, uint32(sig)) }
func SendCommandPid(c *Conn, pid int) error    { return c.writeFrame(tagCommandPid, uint32(pid)) }

// RecvMonitorMessage is called on the parent's end. A transport error
// or a partial frame is reported as a ShortRead message rather than
// an error (any read of fewer than frameLen bytes is converted
// to ShortRead").
func RecvMonitorMessage(c *Conn) (MonitorMessage, error) {
	tag, payload, err := c.readFrame()
	if err != nil {
		if errors.Is(err, ErrShortRead) {
			return MonitorMessage{Kind: ShortRead}, nil
		}
		return MonitorMessage{}, err
	}
	switch tag {
	case tagIoError:
		return MonitorMessage{Kind: IoError, Value: int(payload)}, nil
	case tagCommandExit:
		return MonitorMessage{Kind: CommandExit, Value: int(payload)}, nil
	case tagCommandTerm:
		return MonitorMessage{Kind: CommandTerm, Value: int(payload)}, nil
	case tagCommandStop:
		return MonitorMessage{Kind: CommandStop, Value: int(payload)}, nil
	case tagCommandPid:
		return MonitorMessage{Kind: CommandPid, Value: int(payload)}, nil
	default:
		return MonitorMessage{}, fmt.Errorf("backchannel: unknown monitor tag %d", tag)
	}
}
