package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// PCM is decoded signed 16-bit little-endian interleaved stereo audio.
type PCM struct {
	Data       []byte
	SampleRate int
}

// DecodeMP3 decodes an MP3 clip. go-mp3 always yields 16-bit stereo, so the
// result can be fed to a stereo device after resampling.
func DecodeMP3(clip []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(clip))
	if err != nil {
		return PCM{}, fmt.Errorf("audio: open mp3: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	return PCM{Data: data, SampleRate: dec.SampleRate()}, nil
}

// ResampleStereo16 converts 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each frame is 4 bytes (L+R interleaved). The input is
// returned unchanged when the rates match or either rate is invalid.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := 0; ch < 2; ch++ {
			a := sample(pcm, idx*4+ch*2)
			b := sample(pcm, next*4+ch*2)
			v := int16(float64(a)*(1-frac) + float64(b)*frac)
			out[i*4+ch*2] = byte(v)
			out[i*4+ch*2+1] = byte(v >> 8)
		}
	}
	return out
}

func sample(pcm []byte, off int) int16 {
	return int16(pcm[off]) | int16(pcm[off+1])<<8
}
