package apns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mksent(ids ...uint32) (*sentlog, map[uint32]*Notification) {
	s := newSentlog(100)
	m := make(map[uint32]*Notification, len(ids))
	for _, id := range ids {
		n := &Notification{Token: []byte{byte(id)}}
		n.assign(id)
		s.Append(n)
		m[id] = n
	}
	return s, m
}

func TestSentlogBound(t *testing.T) {
	t.Parallel()

	s := newSentlog(3)
	for id := uint32(1); id <= 4; id++ {
		n := &Notification{Token: []byte{byte(id)}}
		n.assign(id)
		s.Append(n)
	}
	require.Equal(t, 3, s.Len(), "inserting over capacity evicts the oldest")
	// 1 was evicted: an error report for it falls on the unmatched path
	match, resend := s.TakeError(1)
	assert.Nil(t, match)
	require.Len(t, resend, 3)
	assert.Equal(t, uint32(2), resend[0].identifier)
	assert.Equal(t, uint32(4), resend[2].identifier)
	assert.Equal(t, 0, s.Len())
}

func TestSentlogMatched(t *testing.T) {
	t.Parallel()

	s, m := mksent(5, 6, 7, 8)
	match, resend := s.TakeError(7)
	require.NotNil(t, match)
	assert.Same(t, m[7], match, "the faulting notification is reported")
	// 5 and 6 are presumed delivered, gone without a callback
	require.Len(t, resend, 1)
	assert.Same(t, m[8], resend[0], "strictly newer entries are resent")
	assert.Equal(t, 0, s.Len(), "cache is empty after partition")
}

func TestSentlogMatchNewest(t *testing.T) {
	t.Parallel()

	s, m := mksent(5, 6, 7, 8)
	match, resend := s.TakeError(8)
	assert.Same(t, m[8], match)
	assert.Len(t, resend, 0)
	assert.Equal(t, 0, s.Len())
}

func TestSentlogMatchOldest(t *testing.T) {
	t.Parallel()

	s, m := mksent(5, 6, 7, 8)
	match, resend := s.TakeError(5)
	assert.Same(t, m[5], match)
	require.Len(t, resend, 3)
	assert.Equal(t, []*Notification{m[6], m[7], m[8]}, resend)
}

func TestSentlogUnmatched(t *testing.T) {
	t.Parallel()

	s, m := mksent(5, 6, 7, 8)
	match, resend := s.TakeError(99)
	assert.Nil(t, match)
	// the whole retained window goes back out, order preserved
	assert.Equal(t, []*Notification{m[5], m[6], m[7], m[8]}, resend)
	assert.Equal(t, 0, s.Len())
}

func TestSentlogReuseAfterTake(t *testing.T) {
	t.Parallel()

	s, _ := mksent(1, 2)
	_, _ = s.TakeError(1)
	n := &Notification{Token: []byte{9}}
	n.assign(9)
	s.Append(n)
	match, resend := s.TakeError(9)
	assert.Same(t, n, match)
	assert.Len(t, resend, 0)
}
