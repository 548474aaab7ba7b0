package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// RecognizeOptions carries the per-session knobs that affect how the
// underlying recognizer processes a chunk, mirroring the optional fields of
// the client's options frame.
type RecognizeOptions struct {
	Language      string
	Task          string
	Model         string
	UseVAD        bool
	InitialPrompt string
}

// RecognizedSegment is one segment returned by a Backend pass.
type RecognizedSegment struct {
	Start float64
	End   float64
	Text  string
}

// RecognizeResult is a single recognition pass's output: zero or more
// segments plus the detected language, if any.
type RecognizeResult struct {
	Segments []RecognizedSegment
	Language string
}

// Backend is the underlying speech recognizer, kept behind an interface so
// the worker's buffering/filtering/stall-detection logic never depends on a
// specific model runtime.
type Backend interface {
	Recognize(ctx context.Context, audio []float32, opts RecognizeOptions) (RecognizeResult, error)
}

// HTTPBackend calls out to an external recognition service (a
// faster-whisper/TensorRT-LLM server, in production) over HTTP, POSTing raw
// little-endian float32 PCM and decoding a JSON segment list. This worker
// only ever sees the recognizer as a pluggable backend, matching the
// boundary the options frame's backend/model fields already imply.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend constructs an HTTPBackend pointed at url.
func NewHTTPBackend(url string) *HTTPBackend {
	return &HTTPBackend{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

type httpBackendResponse struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Recognize implements Backend.
func (b *HTTPBackend) Recognize(ctx context.Context, audio []float32, opts RecognizeOptions) (RecognizeResult, error) {
	body := make([]byte, len(audio)*4)
	for i, s := range audio {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(s))
	}

	url := fmt.Sprintf("%s?language=%s&task=%s&model=%s&use_vad=%t", b.url, opts.Language, opts.Task, opts.Model, opts.UseVAD)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RecognizeResult{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return RecognizeResult{}, fmt.Errorf("recognize request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RecognizeResult{}, fmt.Errorf("recognize backend returned %d", resp.StatusCode)
	}

	var parsed httpBackendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return RecognizeResult{}, fmt.Errorf("decode recognize response: %w", err)
	}

	result := RecognizeResult{Language: parsed.Language}
	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, RecognizedSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return result, nil
}
