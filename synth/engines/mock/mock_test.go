package mock

import (
	"bytes"
	"context"
	"testing"

	"github.com/bookvoice/bookvoice/synth"
)

func TestToneDistinguishesTexts(t *testing.T) {
	a := Tone("first chunk", 1.0)
	b := Tone("second chunk", 1.0)
	if len(a) == len(b) && bytes.Equal(int16Bytes(a), int16Bytes(b)) {
		t.Error("different texts produced identical tones")
	}

	again := Tone("first chunk", 1.0)
	if !bytes.Equal(int16Bytes(a), int16Bytes(again)) {
		t.Error("same text produced different tones across calls")
	}
}

func TestToneDurationGrowsWithLength(t *testing.T) {
	short := Tone("hi there friend", 1.0)
	long := Tone(string(make([]byte, 400)), 1.0)
	if len(long) <= len(short) {
		t.Errorf("longer text should yield more samples: %d vs %d", len(long), len(short))
	}
}

func TestScriptedFailures(t *testing.T) {
	e := New()
	e.FailTimes("unlucky", 2)

	ctx := context.Background()
	params := synth.Params{Rate: 1.0}

	for i := 0; i < 2; i++ {
		if _, err := e.Synthesize(ctx, "unlucky", params); err == nil {
			t.Fatalf("call %d should fail", i+1)
		}
	}
	if _, err := e.Synthesize(ctx, "unlucky", params); err != nil {
		t.Fatalf("third call should succeed, got %v", err)
	}
	if e.Calls() != 3 {
		t.Errorf("calls = %d, want 3", e.Calls())
	}
}

func int16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
