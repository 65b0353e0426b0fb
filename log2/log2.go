// Package log2 is a thin leveled wrapper around stdlib log:
// - level filtering with safe concurrent level change
// - nil *Log is valid and silent, callers never check
// - test mode routes output to t.Logf and fatals to t.Fatalf
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	Lmicroseconds int = log.Lmicroseconds
	Lshortfile    int = log.Lshortfile
	LStdFlags     int = log.Ltime | log.Lshortfile
	LTestFlags    int = log.Lshortfile | log.Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

type FmtFunc func(format string, args ...interface{})

type Log struct {
	l      *log.Logger
	level  Level
	w      io.Writer
	fatalf FmtFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == nil || w == ioutil.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

type fmtWriter struct{ f FmtFunc }

func (fw fmtWriter) Write(b []byte) (int, error) {
	fw.f(string(b))
	return len(b), nil
}

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(fmtWriter{f}, level) }

func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	l.SetFlags(LTestFlags)
	return l
}

func (l *Log) Clone(level Level) *Log {
	if l == nil {
		return nil
	}
	n := NewWriter(l.w, level)
	n.l.SetFlags(l.l.Flags())
	n.fatalf = l.fatalf
	return n
}

func (l *Log) SetLevel(level Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32((*int32)(&l.level), int32(level))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) SetPrefix(prefix string) {
	if l == nil {
		return
	}
	l.l.SetPrefix(prefix)
}

func (l *Log) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&l.level)) >= int32(level)
}

func (l *Log) Logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		_ = l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Errorf(format string, args ...interface{}) {
	l.Logf(LError, "error: "+format, args...)
}

func (l *Log) Infof(format string, args ...interface{}) {
	l.Logf(LInfo, format, args...)
}

func (l *Log) Debugf(format string, args ...interface{}) {
	l.Logf(LDebug, "debug: "+format, args...)
}

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l == nil {
		os.Exit(1)
	}
	if l.fatalf != nil {
		l.fatalf(format, args...)
		return
	}
	l.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}
