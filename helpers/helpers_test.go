package helpers

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureComplete(t *testing.T) {
	t.Parallel()
	f := NewFuture()
	go f.Complete(42)
	r, ok := f.Wait()
	assert.True(t, ok)
	assert.Equal(t, 42, r)
	assert.False(t, f.Complete(43), "second complete must be rejected")
	assert.False(t, f.Cancel(nil), "cancel after complete must be rejected")
}

func TestFutureCancel(t *testing.T) {
	t.Parallel()
	f := NewFuture()
	e := fmt.Errorf("connect refused")
	go f.Cancel(e)
	r, ok := f.Wait()
	assert.False(t, ok)
	assert.Equal(t, e, r)
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := &Backoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore(), "first delay is zero")
	b.Failure()
	d1 := b.DelayBefore()
	assert.True(t, d1 > 0 && d1 <= 20*time.Millisecond, "d1=%s", d1)
	b.Failure()
	b.Failure()
	b.Failure()
	assert.True(t, b.DelayBefore() <= 40*time.Millisecond)
	b.Reset()
	time.Sleep(11 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}

type shortWriter struct {
	buf bytes.Buffer
	n   int
}

func (w *shortWriter) Write(b []byte) (int, error) {
	if len(b) > w.n {
		b = b[:w.n]
	}
	return w.buf.Write(b)
}

func TestWriteAll(t *testing.T) {
	t.Parallel()
	w := &shortWriter{n: 3}
	require.NoError(t, WriteAll(w, []byte("hello world")))
	assert.Equal(t, "hello world", w.buf.String())
}

func TestAtomicError(t *testing.T) {
	t.Parallel()
	a := new(AtomicError)
	_, set := a.Load()
	assert.False(t, set)
	e1 := fmt.Errorf("first")
	prev, found := a.StoreOnce(e1)
	assert.Nil(t, prev)
	assert.False(t, found)
	prev, found = a.StoreOnce(fmt.Errorf("second"))
	assert.Equal(t, e1, prev)
	assert.True(t, found)
	cur, set := a.Load()
	assert.Equal(t, e1, cur)
	assert.True(t, set)
}
