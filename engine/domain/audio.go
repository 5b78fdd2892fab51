package domain

import (
	"bytes"
	"encoding/base64"
	"strings"
)

// MinAudioBytes is the smallest decoded payload accepted — the size of a WAV
// header. Anything shorter cannot be a playable recording.
const MinAudioBytes = 44

// DefaultMaxAudioBytes caps decoded audio at 25 MiB, the transcription
// provider's upload limit.
const DefaultMaxAudioBytes = 25 << 20

// DetectFormat sniffs the container format from the payload's magic bytes.
// Unknown headers fall back to WAV, matching what sessions have historically
// stored.
func DetectFormat(b []byte) AudioFormat {
	switch {
	case bytes.HasPrefix(b, []byte("RIFF")) && len(b) >= 12 && bytes.Contains(b[:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(b, []byte("ID3")) || bytes.HasPrefix(b, []byte{0xff, 0xfb}):
		return FormatMP3
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FormatFLAC
	case len(b) >= 11 && bytes.Equal(b[4:11], []byte("ftypM4A")):
		return FormatM4A
	case bytes.HasPrefix(b, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(b, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return FormatWebM
	default:
		return FormatWAV
	}
}

// DecodeAudio decodes and validates a base64 audio payload. maxBytes <= 0
// falls back to DefaultMaxAudioBytes. All failures are Validation errors.
func DecodeAudio(b64 string, maxBytes int) (*AudioPayload, *Error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAudioBytes
	}

	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, ErrValidation("audio data cannot be empty", nil)
	}

	// Tolerate producers that strip the trailing padding.
	if n := len(b64) % 4; n != 0 {
		b64 += strings.Repeat("=", 4-n)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ErrValidation("invalid base64 audio encoding", map[string]any{
			"reason": err.Error(),
		})
	}

	if len(raw) > maxBytes {
		return nil, ErrValidation("audio payload too large", map[string]any{
			"size_bytes": len(raw),
			"max_bytes":  maxBytes,
		})
	}
	if len(raw) < MinAudioBytes {
		return nil, ErrValidation("audio payload too small to be a valid recording", map[string]any{
			"size_bytes": len(raw),
			"min_bytes":  MinAudioBytes,
		})
	}

	format := DetectFormat(raw)
	if !SupportedFormats[format] {
		return nil, ErrValidation("unsupported audio format", map[string]any{
			"format": string(format),
		})
	}

	return &AudioPayload{
		Bytes:    raw,
		Format:   format,
		Channels: 1, // mono is the only supported path
	}, nil
}
