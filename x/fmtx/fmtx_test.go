package fmtx

import (
	"strings"
	"testing"
	"time"
)

// The verbs below are the ones the firmware actually formats with: %s for
// durations in link retry messages, %q for transport names, %v/%d for the
// console status block. Host and MCU implementations must agree on them.

func TestSprintfLinkMessages(t *testing.T) {
	got := Sprintf("dial failed, retry in %s", 250*time.Millisecond)
	if got != "dial failed, retry in 250ms" {
		t.Fatalf("got %q", got)
	}
}

func TestErrorfQuotesTransportName(t *testing.T) {
	err := Errorf("unknown transport type: %q", "tcp-dail")
	if err == nil || err.Error() != `unknown transport type: "tcp-dail"` {
		t.Fatalf("got %v", err)
	}
}

func TestFprintfStatusBlock(t *testing.T) {
	var b strings.Builder
	Fprintf(&b, "running: %v\n", true)
	Fprintf(&b, "cycles: %d\n", 12)
	Fprintf(&b, "latency: %dus", uint64(1025))
	want := "running: true\ncycles: 12\nlatency: 1025us"
	if b.String() != want {
		t.Fatalf("got %q, want %q", b.String(), want)
	}
}

func TestSprintfLiteralPercent(t *testing.T) {
	if got := Sprintf("amp %d%%", 80); got != "amp 80%" {
		t.Fatalf("got %q", got)
	}
}
