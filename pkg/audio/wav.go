package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the length of the canonical PCM RIFF/WAVE header.
const WAVHeaderSize = 44

// MIMETypeWAV is the MIME type reported for synthesised containers.
const MIMETypeWAV = "audio/wav"

// ErrNotWAV is returned by [DecodeWAV] when the input is not a PCM RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a PCM wav file")

// WAVHeader builds the 44-byte header for a PCM payload of dataLen bytes.
//
// Layout (little-endian):
//
//	 0 "RIFF"   4 chunk size (36+dataLen)   8 "WAVE"
//	12 "fmt "  16 fmt size (16)            20 format tag (1 = PCM)
//	22 channels  24 sample rate  28 byte rate  32 block align  34 bits/sample
//	36 "data"  40 dataLen
func WAVHeader(dataLen, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV wraps base64-encoded raw PCM in a WAV container and returns the
// container as base64. The output decodes to exactly WAVHeaderSize+len(pcm)
// bytes.
func EncodeWAV(pcmBase64 string, sampleRate, channels, bitsPerSample int) (string, error) {
	pcm, err := base64.StdEncoding.DecodeString(pcmBase64)
	if err != nil {
		return "", fmt.Errorf("audio: decode pcm: %w", err)
	}
	out := make([]byte, 0, WAVHeaderSize+len(pcm))
	out = append(out, WAVHeader(len(pcm), sampleRate, channels, bitsPerSample)...)
	out = append(out, pcm...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecodeWAV parses a PCM RIFF/WAVE file and returns its sample data and format.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped. Only
// 16-bit integer PCM is accepted.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || end < body {
			// Truncated data chunks are common in streamed recordings.
			if id == "data" && haveFmt {
				return data[body:], f, nil
			}
			return nil, Format{}, fmt.Errorf("audio: chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if tag != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d, %d bits", ErrNotWAV, tag, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return data[body:end], f, nil
		}

		// Chunks are word-aligned.
		pos = end + size%2
	}
	return nil, Format{}, errors.New("audio: no data chunk")
}
