package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Transcriber converts a local audio file into transcript text. Blank text is
// returned as is; callers decide whether that is a failure.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

type OpenAITranscriberConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type OpenAITranscriber struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewOpenAITranscriber(config OpenAITranscriberConfig) *OpenAITranscriber {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "gpt-4o-mini-transcribe"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &OpenAITranscriber{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (t *OpenAITranscriber) Available() bool {
	return t.apiKey != ""
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, filePath string) (string, error) {
	if !t.Available() {
		return "", ErrOpenAIUnavailable
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// The multipart body is produced while the request is sent, so the audio
	// is never held in memory.
	body, writer := io.Pipe()
	multipartWriter := multipart.NewWriter(writer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writer.CloseWithError(writeTranscriptionForm(multipartWriter, t.model, filepath.Base(filePath), file))
	}()
	defer func() {
		body.Close()
		<-done
	}()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, t.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpRequest.Header.Set("Content-Type", multipartWriter.FormDataContentType())
	httpRequest.Header.Set("Accept", "application/json")

	raw, err := doProviderRequest(timeoutCtx, t.httpClient, httpRequest, "openai transcription")
	if err != nil {
		return "", err
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(decoded.Text), nil
}

func writeTranscriptionForm(writer *multipart.Writer, model string, fileName string, audio io.Reader) error {
	if err := writer.WriteField("model", model); err != nil {
		return fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return fmt.Errorf("write format field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}
	return nil
}
