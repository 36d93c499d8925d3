package rendezvous

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

var endian = binary.LittleEndian

const (
	AgentIDSize  = 128
	lengthSize   = 4
	identitySize = 4
	helloSize    = AgentIDSize + 4

	maxFrameSize = 256 << 20
)

// agentHeader opens every agent connection.
type agentHeader struct {
	AgentID  [AgentIDSize]byte
	RankSize uint32
}

func newAgentHeader(id string, rankSize uint32) agentHeader {
	var h agentHeader
	copy(h.AgentID[:AgentIDSize-1], id)
	h.RankSize = rankSize
	return h
}

func (h agentHeader) ID() string { return cString(h.AgentID[:]) }

func (h agentHeader) String() string {
	return fmt.Sprintf("agentHeader{id=%s,ranks=%d}", h.ID(), h.RankSize)
}

// encodeHello returns agent id, rank size and the length prefixed body.
func encodeHello(h agentHeader, body []byte) []byte {
	bs := make([]byte, helloSize+lengthSize+len(body))
	copy(bs, h.AgentID[:])
	endian.PutUint32(bs[AgentIDSize:], h.RankSize)
	endian.PutUint32(bs[helloSize:], uint32(len(body)))
	copy(bs[helloSize+lengthSize:], body)
	return bs
}

// encodeReply returns the length prefixed body, followed by the assigned
// rank when the server chose it.
func encodeReply(body []byte, identity *uint32) []byte {
	n := lengthSize + len(body)
	if identity != nil {
		n += identitySize
	}
	bs := make([]byte, n)
	endian.PutUint32(bs, uint32(len(body)))
	copy(bs[lengthSize:], body)
	if identity != nil {
		endian.PutUint32(bs[lengthSize+len(body):], *identity)
	}
	return bs
}

type frameState int

const (
	AwaitingHeader frameState = iota
	AwaitingBody
	AwaitingIdentity
	Done
)

var frameStateNames = map[frameState]string{
	AwaitingHeader:   "AwaitingHeader",
	AwaitingBody:     "AwaitingBody",
	AwaitingIdentity: "AwaitingIdentity",
	Done:             "Done",
}

func (s frameState) String() string { return frameStateNames[s] }

// frameReader reassembles one inbound message. Bytes already received are
// kept across timeouts so that a later call resumes where the last one stopped.
type frameReader struct {
	state    frameState
	identity bool
	head     []byte
	body     []byte
	ident    [identitySize]byte
	off      int
}

func newHelloReader() *frameReader {
	return &frameReader{head: make([]byte, helloSize+lengthSize)}
}

func newReplyReader(identity bool) *frameReader {
	return &frameReader{head: make([]byte, lengthSize), identity: identity}
}

func (f *frameReader) State() frameState { return f.state }

func (f *frameReader) pending() []byte {
	switch f.state {
	case AwaitingHeader:
		return f.head[f.off:]
	case AwaitingBody:
		return f.body[f.off:]
	case AwaitingIdentity:
		return f.ident[f.off:]
	}
	return nil
}

func (f *frameReader) next() error {
	f.off = 0
	switch f.state {
	case AwaitingHeader:
		n := endian.Uint32(f.head[len(f.head)-lengthSize:])
		if n == 0 || n > maxFrameSize {
			return errors.Wrapf(base.ErrInternal, "invalid frame length %d", n)
		}
		f.body = make([]byte, n)
		f.state = AwaitingBody
	case AwaitingBody:
		if f.identity {
			f.state = AwaitingIdentity
		} else {
			f.state = Done
		}
	case AwaitingIdentity:
		f.state = Done
	}
	return nil
}

// Advance issues at most one Read and moves through every part it completes.
func (f *frameReader) Advance(r io.Reader) error {
	if f.state == Done {
		return nil
	}
	n, err := r.Read(f.pending())
	f.off += n
	for f.state != Done && len(f.pending()) == 0 {
		if e := f.next(); e != nil {
			return e
		}
	}
	if err == io.EOF && f.state == Done {
		return nil
	}
	return err
}

// ReadFrom drives the reader until Done or until the deadline passes.
func (f *frameReader) ReadFrom(conn net.Conn, deadline time.Time) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return errors.Wrapf(base.ErrTCPTransfer, "set read deadline: %v", err)
	}
	for f.state != Done {
		if err := f.Advance(conn); err != nil {
			var c base.Code
			if errors.As(err, &c) {
				return err
			}
			if isTimeout(err) {
				return errors.Wrapf(base.ErrTimeout, "read from %s in state %s", conn.RemoteAddr(), f.state)
			}
			return errors.Wrapf(base.ErrTCPTransfer, "read from %s in state %s: %v", conn.RemoteAddr(), f.state, err)
		}
	}
	return nil
}

func (f *frameReader) Header() agentHeader {
	var h agentHeader
	if len(f.head) == helloSize+lengthSize {
		copy(h.AgentID[:], f.head[:AgentIDSize])
		h.RankSize = endian.Uint32(f.head[AgentIDSize:])
	}
	return h
}

func (f *frameReader) Body() []byte { return f.body }

func (f *frameReader) Identity() uint32 { return endian.Uint32(f.ident[:]) }

// writeFull writes bs until done or the deadline passes.
func writeFull(conn net.Conn, bs []byte, deadline time.Time) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrapf(base.ErrTCPTransfer, "set write deadline: %v", err)
	}
	for len(bs) > 0 {
		n, err := conn.Write(bs)
		bs = bs[n:]
		if err != nil {
			if isTimeout(err) {
				return errors.Wrapf(base.ErrTimeout, "write to %s", conn.RemoteAddr())
			}
			return errors.Wrapf(base.ErrTCPTransfer, "write to %s: %v", conn.RemoteAddr(), err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
