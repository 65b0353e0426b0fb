package apns

import (
	"fmt"
	"sync/atomic"
)

// Stat is a low priority counter set, safe for concurrent use.
type Stat struct {
	queued   uint32
	sent     uint32
	requeued uint32
	rejected uint32
	connects uint32
}

func (s *Stat) addQueued()   { atomic.AddUint32(&s.queued, 1) }
func (s *Stat) addSent()     { atomic.AddUint32(&s.sent, 1) }
func (s *Stat) addRequeued() { atomic.AddUint32(&s.requeued, 1) }
func (s *Stat) addRejected() { atomic.AddUint32(&s.rejected, 1) }
func (s *Stat) addConnect()  { atomic.AddUint32(&s.connects, 1) }

func (s *Stat) Queued() uint32   { return atomic.LoadUint32(&s.queued) }
func (s *Stat) Sent() uint32     { return atomic.LoadUint32(&s.sent) }
func (s *Stat) Requeued() uint32 { return atomic.LoadUint32(&s.requeued) }
func (s *Stat) Rejected() uint32 { return atomic.LoadUint32(&s.rejected) }
func (s *Stat) Connects() uint32 { return atomic.LoadUint32(&s.connects) }

func (s *Stat) String() string {
	return fmt.Sprintf("(queued=%d sent=%d requeued=%d rejected=%d connects=%d)",
		s.Queued(), s.Sent(), s.Requeued(), s.Rejected(), s.Connects())
}
