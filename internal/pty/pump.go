package pty

import (
	"log/slog"

	"github.com/agent-tui/agent-tui/internal/stream"
	"github.com/agent-tui/agent-tui/internal/vt"
)

// pumpCommandChannelCapacity bounds the pump's command queue. 64 gives
// plenty of headroom for bursty resize/flush traffic without the RPC
// dispatcher ever blocking on a stuck pump.
const pumpCommandChannelCapacity = 64

// flushAck is sent when a Flush command has drained every PTY read that
// was already in flight at the time it was issued.
type flushAck chan struct{}

// command is a message sent to a running pump.
type command struct {
	flush    flushAck
	shutdown bool
}

// Pump drains a Handle in its own goroutine, feeding every chunk to a
// terminal emulator and then publishing it to a stream.Buffer, in the
// exact order bytes were read from the PTY.
type Pump struct {
	handle Handle
	buf    *stream.Buffer
	term   *vt.Terminal
	logger *slog.Logger

	cmdCh  chan command
	readCh chan readEvent

	done chan struct{}
}

type readEventKind int

const (
	readEventData readEventKind = iota
	readEventEOF
	readEventError
)

type readEvent struct {
	kind readEventKind
	data []byte
	err  error
}

// NewPump constructs a Pump over handle, publishing to buf and feeding
// term before publication. The pump does not start running until Start
// is called.
func NewPump(handle Handle, buf *stream.Buffer, term *vt.Terminal, logger *slog.Logger) *Pump {
	return &Pump{
		handle: handle,
		buf:    buf,
		term:   term,
		logger: logger,
		cmdCh:  make(chan command, pumpCommandChannelCapacity),
		readCh: make(chan readEvent, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the pump's reader goroutine and its main loop goroutine.
func (p *Pump) Start() {
	go p.readLoop()
	go p.mainLoop()
}

// readLoop performs blocking reads from the PTY handle and forwards each
// result to the main loop via readCh, preserving read order.
func (p *Pump) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.handle.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			p.readCh <- readEvent{kind: readEventData, data: chunk}
		}
		if err != nil {
			if isEOF(err) {
				p.readCh <- readEvent{kind: readEventEOF}
			} else {
				p.readCh <- readEvent{kind: readEventError, err: err}
			}
			return
		}
	}
}

func isEOF(err error) bool {
	return err.Error() == "EOF"
}

// mainLoop is the pump's single-goroutine serialization point: every
// byte read from the PTY is fed to the terminal emulator and then
// published to the stream buffer, in the order it was read, before any
// command (flush/shutdown) is acknowledged.
func (p *Pump) mainLoop() {
	defer close(p.done)

	for {
		select {
		case ev := <-p.readCh:
			switch ev.kind {
			case readEventData:
				p.term.Process(ev.data)
				p.buf.Push(ev.data)
			case readEventEOF:
				p.buf.Close(nil)
				p.drainCommandsOnExit()
				return
			case readEventError:
				p.buf.Close(ev.err)
				p.drainCommandsOnExit()
				return
			}

		case cmd := <-p.cmdCh:
			if cmd.flush != nil {
				closed := p.drainReadsNonBlocking()
				close(cmd.flush)
				if closed {
					p.drainCommandsOnExit()
					return
				}
			}
			if cmd.shutdown {
				_ = p.handle.Close()
			}
		}
	}
}

// drainReadsNonBlocking processes every read already queued on readCh
// without blocking, so a Flush ack is never sent ahead of output that was
// read before the flush was requested. It reports whether the PTY reached
// EOF or errored during the drain, in which case the main loop must exit
// exactly as it would have from the primary select.
func (p *Pump) drainReadsNonBlocking() (closed bool) {
	for {
		select {
		case ev := <-p.readCh:
			switch ev.kind {
			case readEventData:
				p.term.Process(ev.data)
				p.buf.Push(ev.data)
			case readEventEOF:
				p.buf.Close(nil)
				closed = true
			case readEventError:
				p.buf.Close(ev.err)
				closed = true
			}
		default:
			return closed
		}
	}
}

// drainCommandsOnExit acknowledges any flush requests still queued once
// the PTY has closed, so callers blocked on Flush never hang past the
// session's natural end.
func (p *Pump) drainCommandsOnExit() {
	for {
		select {
		case cmd := <-p.cmdCh:
			if cmd.flush != nil {
				close(cmd.flush)
			}
		default:
			return
		}
	}
}

// Flush blocks until every PTY read already queued ahead of this call has
// been published to the stream buffer. It's used before taking a
// synchronous snapshot (e.g. live_preview) so the snapshot reflects the
// most recent output.
func (p *Pump) Flush() {
	ack := make(flushAck)
	select {
	case p.cmdCh <- command{flush: ack}:
		<-ack
	case <-p.done:
	}
}

// Shutdown asks the pump to close the underlying handle and stop. It
// does not block until the pump's goroutines exit; callers that need
// that should wait on Done().
func (p *Pump) Shutdown() {
	select {
	case p.cmdCh <- command{shutdown: true}:
	case <-p.done:
	}
}

// Done returns a channel closed once the pump's main loop has exited
// (the PTY reached EOF, errored, or was shut down).
func (p *Pump) Done() <-chan struct{} {
	return p.done
}
