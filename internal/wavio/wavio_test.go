package wavio

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]int16, 2205)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	format := Format{SampleRate: 22050, Channels: 1}

	decoded, gotFormat, err := Decode(Encode(samples, format))
	if err != nil {
		t.Fatal(err)
	}
	if gotFormat != format {
		t.Errorf("format = %+v, want %+v", gotFormat, format)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("sample count = %d, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestFormatDuration(t *testing.T) {
	format := Format{SampleRate: 22050, Channels: 1}
	if d := format.Duration(22050); d != time.Second {
		t.Errorf("mono duration = %v, want 1s", d)
	}
	stereo := Format{SampleRate: 44100, Channels: 2}
	if d := stereo.Duration(88200); d != time.Second {
		t.Errorf("stereo duration = %v, want 1s", d)
	}
}

func TestEncodeFullCarriesMetadataAndMarkers(t *testing.T) {
	samples := make([]int16, 44100)
	format := Format{SampleRate: 22050, Channels: 1}
	meta := &Metadata{Title: "A Test Book", Artist: "An Author", Software: "bookvoice"}
	markers := []Marker{
		{Label: "Chapter One", Offset: 0},
		{Label: "Chapter Two", Offset: 22050},
	}

	data := EncodeFull(samples, format, meta, markers)

	// Extra chunks must not break PCM decoding.
	decoded, gotFormat, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(samples) || gotFormat != format {
		t.Errorf("decode after EncodeFull: %d samples %+v", len(decoded), gotFormat)
	}

	got, err := Markers(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(markers) {
		t.Fatalf("marker count = %d, want %d", len(got), len(markers))
	}
	for i, m := range markers {
		if got[i] != m {
			t.Errorf("marker %d = %+v, want %+v", i, got[i], m)
		}
	}
}

func TestEncodeFullWithoutExtrasMatchesEncode(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	format := Format{SampleRate: 8000, Channels: 1}

	plain := Encode(samples, format)
	full := EncodeFull(samples, format, nil, nil)
	if len(plain) != len(full) {
		t.Fatalf("lengths differ: %d vs %d", len(plain), len(full))
	}
	for i := range plain {
		if plain[i] != full[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("definitely not audio")); err != ErrNotWave {
		t.Errorf("garbage: got %v, want ErrNotWave", err)
	}
	if _, _, err := Decode(nil); err != ErrNotWave {
		t.Errorf("nil: got %v, want ErrNotWave", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data := Encode([]int16{1, 2, 3, 4, 5, 6, 7, 8}, Format{SampleRate: 8000, Channels: 1})
	if _, _, err := Decode(data[:len(data)-4]); err != ErrTruncated {
		t.Errorf("truncated: got %v, want ErrTruncated", err)
	}
}
