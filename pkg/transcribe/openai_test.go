package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/speechsim/speechsim/engine/domain"
	"github.com/speechsim/speechsim/pkg/resilience"
)

func transcriptionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Transcribe(t *testing.T) {
	srv := transcriptionServer(t, 200, `{"text": "  hello world  "}`)
	o := NewOpenAI("test-key", WithBaseURL(srv.URL+"/"))

	got, err := o.Transcribe(context.Background(), []byte("fake-wav-bytes"), domain.FormatWAV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "hello world" {
		t.Fatalf("text = %q, want trimmed transcript", got.Text)
	}
}

func TestOpenAI_Transcribe_EmptyTranscriptIsValid(t *testing.T) {
	srv := transcriptionServer(t, 200, `{"text": ""}`)
	o := NewOpenAI("test-key", WithBaseURL(srv.URL+"/"))

	got, err := o.Transcribe(context.Background(), []byte("silent"), domain.FormatWAV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "" {
		t.Fatalf("text = %q, want empty", got.Text)
	}
}

func TestOpenAI_Transcribe_EmptyAudioRejected(t *testing.T) {
	o := NewOpenAI("test-key")
	_, err := o.Transcribe(context.Background(), nil, domain.FormatWAV)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
}

func TestOpenAI_Transcribe_ProviderRejectsInput(t *testing.T) {
	srv := transcriptionServer(t, 400, `{"error": {"message": "unsupported file"}}`)
	o := NewOpenAI("test-key", WithBaseURL(srv.URL+"/"))

	_, err := o.Transcribe(context.Background(), []byte("bad"), domain.FormatWAV)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
}

func TestOpenAI_Transcribe_ProviderDown(t *testing.T) {
	srv := transcriptionServer(t, 503, `{"error": {"message": "overloaded"}}`)
	o := NewOpenAI("test-key", WithBaseURL(srv.URL+"/"))

	_, err := o.Transcribe(context.Background(), []byte("audio"), domain.FormatWAV)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestOpenAI_Transcribe_BreakerShortCircuits(t *testing.T) {
	srv := transcriptionServer(t, 503, `{"error": {"message": "down"}}`)
	o := NewOpenAI("test-key",
		WithBaseURL(srv.URL+"/"),
		WithBreaker(resilience.NewBreaker(resilience.Options{Threshold: 1})),
	)

	ctx := context.Background()
	if _, err := o.Transcribe(ctx, []byte("audio"), domain.FormatWAV); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("first call: got %v, want ErrUnavailable", err)
	}
	// Breaker is now open; the second call must not reach the server.
	if _, err := o.Transcribe(ctx, []byte("audio"), domain.FormatWAV); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second call: got %v, want ErrUnavailable", err)
	}
}

func TestOpenAI_Transcribe_RateBudgetExceededIsDeadline(t *testing.T) {
	srv := transcriptionServer(t, 200, `{"text": "ok"}`)
	o := NewOpenAI("test-key", WithBaseURL(srv.URL+"/"), WithRateLimit(0.01, 1))

	// First call drains the burst token.
	if _, err := o.Transcribe(context.Background(), []byte("audio"), domain.FormatWAV); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// The next token is ~100s away; a 20ms budget cannot cover the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Transcribe(ctx, []byte("audio"), domain.FormatWAV)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestMimeType(t *testing.T) {
	tests := map[domain.AudioFormat]string{
		domain.FormatWAV:  "audio/wav",
		domain.FormatMP3:  "audio/mpeg",
		domain.FormatFLAC: "audio/flac",
		domain.FormatM4A:  "audio/mp4",
		domain.FormatOGG:  "audio/ogg",
		domain.FormatWebM: "audio/webm",
	}
	for format, want := range tests {
		if got := mimeType(format); got != want {
			t.Fatalf("mimeType(%q) = %q, want %q", format, got, want)
		}
	}
}
