// Package domain defines the core data types, the pipeline error taxonomy,
// and the audio/input validation gates shared by the similarity engine.
package domain

import "time"

// SessionRecord is a row from the sessions table. The engine only reads it;
// ownership and lifecycle belong to the session store.
type SessionRecord struct {
	ID          int64          `json:"id"`
	Speech      string         `json:"speech,omitempty"`
	Questions   map[string]any `json:"questions,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	GeneratedBy string         `json:"generated_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Audio       string         `json:"-"` // base64; never serialized back to callers
}

// AudioFormat is a container format recognised by the pipeline.
type AudioFormat string

const (
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatFLAC AudioFormat = "flac"
	FormatM4A  AudioFormat = "m4a"
	FormatOGG  AudioFormat = "ogg"
	FormatWebM AudioFormat = "webm"
)

// SupportedFormats is the set of formats the transcription path accepts.
var SupportedFormats = map[AudioFormat]bool{
	FormatWAV: true, FormatMP3: true, FormatFLAC: true,
	FormatM4A: true, FormatOGG: true, FormatWebM: true,
}

// AudioPayload is decoded, validated audio. It exists only for the duration
// of one pipeline run.
type AudioPayload struct {
	Bytes    []byte
	Format   AudioFormat
	Channels int
}

// TranscriptionResult is the output of one transcription call. Empty text is
// a valid, low-information result (silent audio), not an error.
type TranscriptionResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"` // [0,1] when the provider reports one
}

// EmbeddingVector is a fixed-dimensionality vector for a text, produced by a
// specific model. Vectors are only comparable when Model matches.
type EmbeddingVector struct {
	Values []float32 `json:"values"`
	Text   string    `json:"-"`
	Model  string    `json:"model"`
	Tokens int64     `json:"tokens"`
}
