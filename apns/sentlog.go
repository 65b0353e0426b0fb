package apns

// sentlog is the transmission cache: a bounded, oldest-first record of
// notifications written to the wire but not yet confirmed or failed.
// Overflow silently drops the oldest entry, it is presumed delivered.
// Owned by the client, all access is under the client mutex.
type sentlog struct {
	max   int
	items []*Notification
}

func newSentlog(max int) *sentlog {
	if max < 1 {
		max = 1
	}
	return &sentlog{max: max, items: make([]*Notification, 0, max)}
}

func (s *sentlog) Len() int { return len(s.items) }

func (s *sentlog) Append(n *Notification) {
	if len(s.items) >= s.max {
		copy(s.items, s.items[1:])
		s.items = s.items[:len(s.items)-1]
	}
	s.items = append(s.items, n)
}

// TakeError correlates a gateway error report with the retained window.
// The log is empty when it returns.
//
// match!=nil: entries older than the match are presumed delivered and dropped,
// resend holds the strictly newer entries in original order.
//
// match==nil: the faulting notification was already evicted, resend holds the
// whole retained window. Resending it may duplicate-deliver notifications the
// gateway already accepted; that is the contract of the bounded cache.
func (s *sentlog) TakeError(identifier uint32) (match *Notification, resend []*Notification) {
	items := s.items
	s.items = make([]*Notification, 0, s.max)
	for i, n := range items {
		if n.identifier == identifier {
			return n, items[i+1:]
		}
	}
	return nil, items
}
