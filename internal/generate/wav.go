package generate

import (
	"bytes"
	"encoding/binary"
)

// Narration audio comes back as raw 16-bit little-endian mono PCM at 24 kHz.
const (
	pcmSampleRate    = 24000
	pcmChannels      = 1
	pcmBitsPerSample = 16
)

// PCMDuration returns the playback length in seconds of a raw PCM buffer.
func PCMDuration(pcm []byte) float64 {
	bytesPerSecond := pcmSampleRate * pcmChannels * pcmBitsPerSample / 8
	return float64(len(pcm)) / float64(bytesPerSecond)
}

// EncodeWAV prefixes raw PCM with a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte) []byte {
	blockAlign := pcmChannels * pcmBitsPerSample / 8
	byteRate := pcmSampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmChannels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(pcmSampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmBitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
