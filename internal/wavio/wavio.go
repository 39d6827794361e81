// Package wavio reads and writes the RIFF/WAVE container for 16-bit PCM
// audio. It is deliberately small: the pipeline normalizes everything to
// PCM16, so only that encoding is supported.
package wavio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotWave is returned for data that is not a RIFF/WAVE stream.
	ErrNotWave = errors.New("wavio: not a RIFF/WAVE stream")
	// ErrUnsupported is returned for WAVE encodings other than 16-bit PCM.
	ErrUnsupported = errors.New("wavio: unsupported encoding, want 16-bit PCM")
	// ErrTruncated is returned when a chunk extends past the end of the data.
	ErrTruncated = errors.New("wavio: truncated stream")
)

// Format describes decoded PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the play time of n interleaved samples in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := n / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Encode wraps interleaved PCM16 samples in a WAVE container.
func Encode(samples []int16, format Format) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	byteRate := format.SampleRate * format.Channels * 2
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels*2)) // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))                // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// Metadata is written into a LIST-INFO chunk.
type Metadata struct {
	Title    string // INAM
	Artist   string // IART
	Comment  string // ICMT
	Software string // ISFT
}

// Marker is a named position in the stream, written as a cue point with an
// adtl label. Offset is in sample frames.
type Marker struct {
	Label  string
	Offset int
}

// EncodeFull wraps PCM16 samples in a WAVE container with optional LIST-INFO
// metadata and cue markers. With neither, it is equivalent to Encode.
func EncodeFull(samples []int16, format Format, meta *Metadata, markers []Marker) []byte {
	infoChunk := encodeInfo(meta)
	cueChunk, adtlChunk := encodeMarkers(markers)

	dataLen := len(samples) * 2
	dataPad := dataLen % 2
	riffLen := 4 + // "WAVE"
		8 + 16 + // fmt
		len(infoChunk) + len(cueChunk) + len(adtlChunk) +
		8 + dataLen + dataPad

	var buf bytes.Buffer
	buf.Grow(8 + riffLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(riffLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	byteRate := format.SampleRate * format.Channels * 2
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.Write(infoChunk)
	buf.Write(cueChunk)
	buf.Write(adtlChunk)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)
	if dataPad == 1 {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

func encodeInfo(meta *Metadata) []byte {
	if meta == nil {
		return nil
	}
	fields := []struct {
		id    string
		value string
	}{
		{"INAM", meta.Title},
		{"IART", meta.Artist},
		{"ICMT", meta.Comment},
		{"ISFT", meta.Software},
	}

	var body bytes.Buffer
	body.WriteString("INFO")
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		writeSubChunk(&body, f.id, append([]byte(f.value), 0))
	}
	if body.Len() == 4 {
		return nil
	}

	var buf bytes.Buffer
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func encodeMarkers(markers []Marker) (cue, adtl []byte) {
	if len(markers) == 0 {
		return nil, nil
	}

	var cueBody bytes.Buffer
	binary.Write(&cueBody, binary.LittleEndian, uint32(len(markers)))
	for i, m := range markers {
		binary.Write(&cueBody, binary.LittleEndian, uint32(i+1)) // cue ID
		binary.Write(&cueBody, binary.LittleEndian, uint32(m.Offset))
		cueBody.WriteString("data")
		binary.Write(&cueBody, binary.LittleEndian, uint32(0)) // chunk start
		binary.Write(&cueBody, binary.LittleEndian, uint32(0)) // block start
		binary.Write(&cueBody, binary.LittleEndian, uint32(m.Offset))
	}

	var cueBuf bytes.Buffer
	cueBuf.WriteString("cue ")
	binary.Write(&cueBuf, binary.LittleEndian, uint32(cueBody.Len()))
	cueBuf.Write(cueBody.Bytes())

	var adtlBody bytes.Buffer
	adtlBody.WriteString("adtl")
	for i, m := range markers {
		var labl bytes.Buffer
		binary.Write(&labl, binary.LittleEndian, uint32(i+1))
		labl.WriteString(m.Label)
		labl.WriteByte(0)
		writeSubChunk(&adtlBody, "labl", labl.Bytes())
	}

	var adtlBuf bytes.Buffer
	adtlBuf.WriteString("LIST")
	binary.Write(&adtlBuf, binary.LittleEndian, uint32(adtlBody.Len()))
	adtlBuf.Write(adtlBody.Bytes())

	return cueBuf.Bytes(), adtlBuf.Bytes()
}

func writeSubChunk(buf *bytes.Buffer, id string, body []byte) {
	buf.WriteString(id)
	binary.Write(buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)
	if len(body)%2 == 1 {
		buf.WriteByte(0)
	}
}

// Markers parses the cue points and adtl labels out of a WAVE container.
// Streams without cue data return an empty slice.
func Markers(data []byte) ([]Marker, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWave
	}

	offsets := map[uint32]int{}   // cue ID -> sample offset
	labels := map[uint32]string{} // cue ID -> label
	var order []uint32

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, ErrTruncated
		}

		switch {
		case id == "cue " && size >= 4:
			n := int(binary.LittleEndian.Uint32(data[body : body+4]))
			for i := 0; i < n && body+4+(i+1)*24 <= body+size; i++ {
				rec := body + 4 + i*24
				cueID := binary.LittleEndian.Uint32(data[rec : rec+4])
				sample := binary.LittleEndian.Uint32(data[rec+20 : rec+24])
				offsets[cueID] = int(sample)
				order = append(order, cueID)
			}
		case id == "LIST" && size >= 4 && string(data[body:body+4]) == "adtl":
			sub := body + 4
			for sub+8 <= body+size {
				subID := string(data[sub : sub+4])
				subSize := int(binary.LittleEndian.Uint32(data[sub+4 : sub+8]))
				subBody := sub + 8
				if subBody+subSize > body+size {
					break
				}
				if subID == "labl" && subSize > 4 {
					cueID := binary.LittleEndian.Uint32(data[subBody : subBody+4])
					label := data[subBody+4 : subBody+subSize]
					labels[cueID] = string(bytes.TrimRight(label, "\x00"))
				}
				sub = subBody + subSize
				if subSize%2 == 1 {
					sub++
				}
			}
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	markers := make([]Marker, 0, len(order))
	for _, cueID := range order {
		markers = append(markers, Marker{Label: labels[cueID], Offset: offsets[cueID]})
	}
	return markers, nil
}

// Decode parses a WAVE container and returns its interleaved PCM16 samples.
// Chunks other than fmt and data (LIST, cue, etc.) are skipped.
func Decode(data []byte) ([]int16, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWave
	}

	var (
		format   Format
		haveFmt  bool
		pcm      []byte
		haveData bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, Format{}, ErrTruncated
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWave)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return nil, Format{}, ErrUnsupported
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt || !haveData {
		return nil, Format{}, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWave)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, Format{}, fmt.Errorf("%w: bad fmt parameters", ErrNotWave)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples, format, nil
}
