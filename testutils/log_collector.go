// Collectable log, (*testing.T).Log style.

// Unless the test runs in verbose mode, the output of the library logger is
// redirected to t.Log, so that it is displayed only for failed tests:

package coreaffinity_testutils

import (
	"io"
	"testing"
)

// The interface expected from a collectable log:
type CollectableLog interface {
	GetLevel() any
	SetLevel(level any)
	GetOutput() io.Writer
	SetOutput(out io.Writer)
}

type TestLogCollect struct {
	log        CollectableLog
	savedOut   io.Writer
	savedLevel any
	t          *testing.T
}

func NewTestLogCollect(t *testing.T, log any, level any) *TestLogCollect {
	tlc := &TestLogCollect{t: t}
	log_, ok := log.(CollectableLog)
	if !ok || log_ == nil {
		return tlc
	}
	tlc.log = log_
	if !testing.Verbose() {
		tlc.savedOut = log_.GetOutput()
		log_.SetOutput(tlc)
	}
	if level != nil {
		tlc.savedLevel = log_.GetLevel()
		log_.SetLevel(level)
	}
	return tlc
}

func (tlc *TestLogCollect) Write(buf []byte) (int, error) {
	n := len(buf)
	if n > 0 && buf[n-1] == '\n' {
		buf = buf[:n-1]
	}
	tlc.t.Log(string(buf))
	return n, nil
}

func (tlc *TestLogCollect) RestoreLog() {
	if tlc.log == nil {
		return
	}
	if tlc.savedOut != nil {
		tlc.log.SetOutput(tlc.savedOut)
	}
	if tlc.savedLevel != nil {
		tlc.log.SetLevel(tlc.savedLevel)
	}
}
