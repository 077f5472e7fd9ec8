package speechcmd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/youpy/go-wav"
)

// Info describes synthesized audio.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

// Inspect reads the format and duration of WAV audio in buf.
func Inspect(buf []byte) (Info, error) {
	fixStreamedHeader(buf)

	r := wav.NewReader(bytes.NewReader(buf))
	format, err := r.Format()
	if err != nil {
		return Info{}, fmt.Errorf("reading wav format: %v", err)
	}
	if format.SampleRate == 0 || format.BlockAlign == 0 {
		return Info{}, fmt.Errorf("invalid wav format, sample rate %d, block align %d", format.SampleRate, format.BlockAlign)
	}
	d, err := r.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("reading wav duration: %v", err)
	}
	return Info{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
		Duration:      d,
	}, nil
}

// fixStreamedHeader clamps the RIFF and data chunk sizes to the length of buf.
// Synthesizers writing to a pipe cannot seek back, and leave placeholder sizes.
func fixStreamedHeader(buf []byte) {
	if len(buf) < 12 || string(buf[0:4]) != "RIFF" {
		return
	}
	if n := uint32(len(buf) - 8); binary.LittleEndian.Uint32(buf[4:8]) > n {
		binary.LittleEndian.PutUint32(buf[4:8], n)
	}
	for o := 12; o+8 <= len(buf); {
		size := binary.LittleEndian.Uint32(buf[o+4 : o+8])
		remain := uint32(len(buf) - o - 8)
		if string(buf[o:o+4]) == "data" {
			if size > remain {
				binary.LittleEndian.PutUint32(buf[o+4:o+8], remain&^1)
			}
			return
		}
		if size > remain {
			return
		}
		o += 8 + int(size) + int(size%2)
	}
}
