package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
		SetQuiet(false)
		SetDebug(false)
	})
	return &buf
}

func TestQuietSuppressesInfo(t *testing.T) {
	buf := captureLog(t)
	SetQuiet(true)
	Info("hello %d", 1)
	Debug("dbg")
	if buf.Len() != 0 {
		t.Errorf("в режиме quiet Info не должен писать, получили %q", buf.String())
	}
	Error("boom")
	if !strings.Contains(buf.String(), "lockstep: ERROR boom") {
		t.Errorf("Error должен писать всегда, получили %q", buf.String())
	}
}

func TestDebugNeedsFlag(t *testing.T) {
	buf := captureLog(t)
	Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Debug без SetDebug не должен писать: %q", buf.String())
	}
	SetDebug(true)
	Debug("shown %s", "x")
	if !strings.Contains(buf.String(), "lockstep: shown x") {
		t.Errorf("ожидали debug-сообщение, получили %q", buf.String())
	}
}

func TestComponentTag(t *testing.T) {
	buf := captureLog(t)
	With("sync").Warn("rtt %d", 5)
	if got := buf.String(); !strings.Contains(got, "WARN [sync] rtt 5") {
		t.Errorf("ожидали тег компонента, получили %q", got)
	}
}
