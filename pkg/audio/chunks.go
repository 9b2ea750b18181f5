// Package audio provides the byte-level audio helpers used by live sessions:
// reassembly of base64 PCM chunks, RIFF/WAVE container synthesis and parsing,
// and PCM format normalisation.
//
// All PCM handled here is little-endian signed 16-bit unless stated otherwise.
package audio

import (
	"encoding/base64"
	"fmt"
)

// CombineChunks decodes each base64 chunk, concatenates the raw bytes in the
// order given and re-encodes the result as base64.
//
// Chunk order is significant: chunks arrive in emission order from the remote
// stream and are never sorted or de-duplicated. An empty slice yields "" and a
// single chunk is returned as-is.
func CombineChunks(chunks []string) (string, error) {
	switch len(chunks) {
	case 0:
		return "", nil
	case 1:
		return chunks[0], nil
	}

	decoded := make([][]byte, len(chunks))
	total := 0
	for i, c := range chunks {
		b, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return "", fmt.Errorf("audio: decode chunk %d: %w", i, err)
		}
		decoded[i] = b
		total += len(b)
	}

	buf := make([]byte, 0, total)
	for _, b := range decoded {
		buf = append(buf, b...)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
