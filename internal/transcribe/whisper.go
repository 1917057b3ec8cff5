package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ivanglie/scribe/internal/audio"
)

// WhisperClient talks to a faster-whisper-compatible transcription server
// over HTTP. It satisfies Engine.
type WhisperClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewWhisperClient creates a client targeting the given server base URL.
func NewWhisperClient(baseURL, model string) *WhisperClient {
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// IsRunning returns true if the transcription server responds to GET /health.
func (c *WhisperClient) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// transcriptionResponse mirrors the verbose_json response of
// POST /v1/audio/transcriptions.
type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the window as a WAV file and returns the recognized
// segments.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error) {
	wavPath, err := c.writeTempWAV(samples)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, wavPath, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", pr)
	if err != nil {
		return nil, fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding transcription response: %w", err)
	}

	segments := make([]Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, Segment{StartSec: s.Start, EndSec: s.End, Text: s.Text})
	}
	if len(segments) == 0 && strings.TrimSpace(result.Text) != "" {
		segments = append(segments, Segment{Text: result.Text})
	}
	return segments, nil
}

func (c *WhisperClient) writeTempWAV(samples []float32) (string, error) {
	f, err := os.CreateTemp("", "scribe-chunk-*.wav")
	if err != nil {
		return "", fmt.Errorf("creating temp wav: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := audio.WriteWAV(path, audio.Float32ToInt16(samples), EngineSampleRate, 1); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (c *WhisperClient) writeForm(mw *multipart.Writer, wavPath string, opts Options) error {
	defer mw.Close()

	f, err := os.Open(wavPath)
	if err != nil {
		return fmt.Errorf("opening temp wav: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copying wav into form: %w", err)
	}

	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
		"beam_size":       strconv.Itoa(opts.BeamSize),
		"vad_filter":      strconv.FormatBool(opts.VADFilter),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	return nil
}
