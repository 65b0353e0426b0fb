package apns

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/spq"

	"github.com/pushgate/apns/helpers"
)

// entry is one queued notification plus its optional submit future.
type entry struct {
	n   *Notification
	f   *helpers.Future
	box spq.Box // spool only
}

// outqueue is the outbound buffer: FIFO of notifications awaiting
// transmission. Peek blocks until an entry is available or the queue closes;
// Delete removes the previously peeked head. Only the client worker consumes.
type outqueue interface {
	Push(entry) error
	Peek() (entry, error)
	Delete(entry) error
	// CancelFutures rejects pending submit futures after a failed connection
	// attempt. Entries stay queued for the next attempt.
	CancelFutures(err error)
	Close() error
}

// memqueue is the default in-memory unbounded FIFO.
// Signalling mirrors spq: readch wakes a blocked Peek after Push.
type memqueue struct {
	mu     sync.Mutex
	items  []entry
	readch chan struct{}
	stopch chan struct{}
	closed bool
}

func newMemqueue() *memqueue {
	return &memqueue{
		readch: make(chan struct{}, 1),
		stopch: make(chan struct{}),
	}
}

func (q *memqueue) Push(e entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosing
	}
	q.items = append(q.items, e)
	select {
	case q.readch <- struct{}{}:
	default:
	}
	return nil
}

func (q *memqueue) Peek() (entry, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return entry{}, ErrClosing
		}
		if len(q.items) > 0 {
			e := q.items[0]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()
		select {
		case <-q.readch:
		case <-q.stopch:
			return entry{}, ErrClosing
		}
	}
}

func (q *memqueue) Delete(entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return errors.Errorf("code error memqueue.Delete on empty queue")
	}
	q.items[0] = entry{}
	q.items = q.items[1:]
	return nil
}

func (q *memqueue) CancelFutures(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if f := q.items[i].f; f != nil {
			f.Cancel(err)
			q.items[i].f = nil
		}
	}
}

func (q *memqueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *memqueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.stopch)
		for i := range q.items {
			if f := q.items[i].f; f != nil {
				f.Cancel(ErrClosing)
				q.items[i].f = nil
			}
		}
	}
	return nil
}

// spoolqueue persists the outbound buffer on disk so pending notifications
// survive a process restart. Entries round-trip through the wire codec with a
// leading tag byte to remember identifier assignment.
type spoolqueue struct {
	q *spq.Queue
}

const (
	spoolTagUnassigned = byte(1)
	spoolTagAssigned   = byte(2)
)

func newSpoolqueue(path string) (*spoolqueue, error) {
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "spool open")
	}
	return &spoolqueue{q: q}, nil
}

// Push completes the submit future on durable write: with a spool configured,
// the delivery contract is handoff to disk, same as the wire contract is
// handoff to the transport.
func (q *spoolqueue) Push(e entry) error {
	b, err := spoolMarshal(e.n)
	if err != nil {
		return err
	}
	if err = q.q.Push(b); err != nil {
		return errors.Annotate(err, "spool push")
	}
	if e.f != nil {
		e.f.Complete(nil)
	}
	return nil
}

func (q *spoolqueue) Peek() (entry, error) {
	box, err := q.q.Peek()
	if err != nil {
		if err == spq.ErrClosed {
			return entry{}, ErrClosing
		}
		return entry{}, errors.Annotate(err, "spool peek")
	}
	n, err := spoolUnmarshal(box.Bytes())
	if err != nil {
		// corrupt entry, drop it rather than wedge the queue
		_ = q.q.Delete(box)
		return entry{}, errors.Annotate(err, "spool entry")
	}
	return entry{n: n, box: box}, nil
}

func (q *spoolqueue) Delete(e entry) error { return q.q.Delete(e.box) }

func (q *spoolqueue) CancelFutures(error) {} // futures were completed at Push

func (q *spoolqueue) Close() error { return q.q.Close() }

func spoolMarshal(n *Notification) ([]byte, error) {
	tag := spoolTagUnassigned
	if n.assigned {
		tag = spoolTagAssigned
	}
	frame, err := FrameMarshal(ProtocolEnhanced, n)
	if err != nil {
		return nil, err
	}
	return append([]byte{tag}, frame...), nil
}

func spoolUnmarshal(b []byte) (*Notification, error) {
	if len(b) < 1 {
		return nil, ErrFrameInvalid
	}
	n, _, err := FrameUnmarshal(b[1:])
	if err != nil {
		return nil, err
	}
	switch b[0] {
	case spoolTagUnassigned:
		n.identifier = 0
		n.assigned = false
	case spoolTagAssigned:
	default:
		return nil, errors.Annotatef(ErrFrameInvalid, "spool tag=%d", b[0])
	}
	return n, nil
}
