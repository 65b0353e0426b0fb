package apns

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/juju/errors"
)

// Protocol selects the notification frame variant.
// Enhanced carries identifier+expiry and enables error correlation;
// simple frames are fire-and-forget, never cached, never replayed.
type Protocol byte

const (
	ProtocolSimple   Protocol = 0
	ProtocolEnhanced Protocol = 1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSimple:
		return "simple"
	case ProtocolEnhanced:
		return "enhanced"
	}
	return fmt.Sprintf("Protocol(%d)", byte(p))
}

const (
	commandSimple   = byte(0)
	commandEnhanced = byte(1)
	commandError    = byte(8)

	// PayloadMax is the protocol field width limit, not a policy choice.
	PayloadMax = 255

	ErrorFrameSize    = 6
	feedbackTupleSize = 6 // fixed part: time u32 + tokenLen u16
)

var (
	ErrMissingToken    = fmt.Errorf("notification token is missing")
	ErrPayloadTooLarge = fmt.Errorf("notification payload exceeds %d bytes", PayloadMax)
	ErrFrameInvalid    = fmt.Errorf("frame is invalid")
)

// ValidateNotification checks what the codec will reject, without encoding.
// These errors are permanent: retry can not help.
func ValidateNotification(n *Notification) error {
	if len(n.Token) == 0 {
		return ErrMissingToken
	}
	if len(n.Token) > math.MaxUint16 {
		return ErrFrameInvalid
	}
	if len(n.Payload) > PayloadMax {
		return ErrPayloadTooLarge
	}
	return nil
}

// FrameMarshal encodes a notification frame.
//
// enhanced: command=1 | identifier u32 | expiry u32 | tokenLen u16 | token | payloadLen u16 | payload
// simple:   command=0 | tokenLen u16 | token | payloadLen u16 | payload
// All integers big-endian.
func FrameMarshal(p Protocol, n *Notification) ([]byte, error) {
	if err := ValidateNotification(n); err != nil {
		return nil, err
	}

	flen := 1 + 2 + len(n.Token) + 2 + len(n.Payload)
	if p == ProtocolEnhanced {
		flen += 4 + 4
	}
	b := make([]byte, 0, flen)
	switch p {
	case ProtocolSimple:
		b = append(b, commandSimple)

	case ProtocolEnhanced:
		b = append(b, commandEnhanced)
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], n.identifier)
		b = append(b, u32[:]...)
		binary.BigEndian.PutUint32(u32[:], n.Expiry)
		b = append(b, u32[:]...)

	default:
		return nil, errors.Annotatef(ErrFrameInvalid, "protocol=%d", byte(p))
	}
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(n.Token)))
	b = append(b, u16[:]...)
	b = append(b, n.Token...)
	binary.BigEndian.PutUint16(u16[:], uint16(len(n.Payload)))
	b = append(b, u16[:]...)
	b = append(b, n.Payload...)
	return b, nil
}

// FrameUnmarshal decodes a notification frame produced by FrameMarshal.
// Used by the persistent spool to round-trip queued notifications.
func FrameUnmarshal(b []byte) (*Notification, Protocol, error) {
	if len(b) < 1 {
		return nil, 0, errors.Annotate(io.ErrUnexpectedEOF, "command")
	}
	n := &Notification{}
	var p Protocol
	rest := b[1:]
	switch b[0] {
	case commandSimple:
		p = ProtocolSimple

	case commandEnhanced:
		p = ProtocolEnhanced
		if len(rest) < 8 {
			return nil, 0, errors.Annotate(io.ErrUnexpectedEOF, "identifier")
		}
		n.identifier = binary.BigEndian.Uint32(rest[0:])
		n.Expiry = binary.BigEndian.Uint32(rest[4:])
		n.assigned = true
		rest = rest[8:]

	default:
		return nil, 0, ErrFrameInvalid
	}

	var err error
	if n.Token, rest, err = readChunk16(rest); err != nil {
		return nil, 0, errors.Annotate(err, "token")
	}
	if n.Payload, rest, err = readChunk16(rest); err != nil {
		return nil, 0, errors.Annotate(err, "payload")
	}
	if len(rest) != 0 {
		return nil, 0, errors.Annotatef(ErrFrameInvalid, "trailing %d bytes", len(rest))
	}
	return n, p, nil
}

func readChunk16(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	clen := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+clen {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return b[2 : 2+clen], b[2+clen:], nil
}

// ErrorFrameUnmarshal decodes the 6 byte gateway error report:
// command=8 | status u8 | identifier u32.
// Returns io.ErrUnexpectedEOF for a short buffer (await more bytes),
// ErrFrameInvalid for an unrecognized command byte.
func ErrorFrameUnmarshal(b []byte) (status byte, identifier uint32, err error) {
	if len(b) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if b[0] != commandError {
		return 0, 0, ErrFrameInvalid
	}
	if len(b) < ErrorFrameSize {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return b[1], binary.BigEndian.Uint32(b[2:]), nil
}

// Decoder reads inbound gateway frames from a buffered stream,
// taking care of fragmented reads.
type Decoder struct {
	r *bufio.Reader
}

func (d *Decoder) Attach(r *bufio.Reader) { d.r = r }

// ReadError blocks until one complete error frame is read.
func (d *Decoder) ReadError() (status byte, identifier uint32, err error) {
	var b [ErrorFrameSize]byte
	if _, err = io.ReadFull(d.r, b[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, 0, errors.Annotate(err, "error frame")
		}
		return 0, 0, err
	}
	return ErrorFrameUnmarshal(b[:])
}

// ReadFeedback blocks until one feedback tuple is read:
// time u32 | tokenLen u16 | token. Plain io.EOF means a clean end of stream.
func (d *Decoder) ReadFeedback() (timestamp uint32, token []byte, err error) {
	var h [feedbackTupleSize]byte
	if _, err = io.ReadFull(d.r, h[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, errors.Annotate(err, "feedback header")
		}
		return 0, nil, err
	}
	timestamp = binary.BigEndian.Uint32(h[0:])
	tlen := binary.BigEndian.Uint16(h[4:])
	token = make([]byte, tlen)
	if _, err = io.ReadFull(d.r, token); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, errors.Annotate(err, "feedback token")
	}
	return timestamp, token, nil
}
