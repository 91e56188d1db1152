package narration

import (
	"bytes"
	"encoding/binary"
	"time"
)

const bitsPerSample = 16

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * bitsPerSample / 8
	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

// Silence returns d of silent PCM.
func Silence(d time.Duration, sampleRate, channels int) []byte {
	frames := int(int64(d) * int64(sampleRate) / int64(time.Second))
	return make([]byte, frames*channels*bitsPerSample/8)
}
