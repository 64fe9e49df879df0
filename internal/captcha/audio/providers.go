package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

// Provider is one speech-to-text backend. Providers receive raw audio bytes
// plus the sniffed format and return the transcription with the backend's
// own confidence estimate.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error)
}

// RankedProviders builds the provider chain from config order, skipping
// providers whose credentials are absent.
func RankedProviders(config *common.AudioConfig) []Provider {
	client := &http.Client{Timeout: providerTimeout(config)}

	available := map[string]Provider{}
	if config.GoogleSpeechAPIKey != "" {
		available["google"] = &googleProvider{apiKey: config.GoogleSpeechAPIKey, client: client}
	}
	if config.OpenAIAPIKey != "" {
		available["whisper"] = &whisperProvider{apiKey: config.OpenAIAPIKey, client: client}
	}
	if config.AzureSpeechKey != "" {
		available["azure"] = &azureProvider{
			apiKey: config.AzureSpeechKey,
			region: config.AzureSpeechRegion,
			client: client,
		}
	}

	var ranked []Provider
	for _, name := range common.SplitAndTrim(config.ProviderPriority) {
		if provider, ok := available[name]; ok {
			ranked = append(ranked, provider)
			delete(available, name)
		}
	}
	return ranked
}

func providerTimeout(config *common.AudioConfig) time.Duration {
	if config.TimeoutMS > 0 {
		return time.Duration(config.TimeoutMS) * time.Millisecond
	}
	return 30 * time.Second
}

// googleProvider calls the Google Cloud Speech-to-Text REST API
type googleProvider struct {
	apiKey string
	client *http.Client
}

func (p *googleProvider) Name() string { return "google" }

func (p *googleProvider) Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error) {
	encoding := map[string]string{"mp3": "MP3", "wav": "LINEAR16", "ogg": "OGG_OPUS"}[format]
	if encoding == "" {
		return nil, fmt.Errorf("google speech does not accept %s audio", format)
	}

	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"encoding":        encoding,
			"languageCode":    "en-US",
			"sampleRateHertz": 16000,
		},
		"audio": map[string]string{"content": base64.StdEncoding.EncodeToString(audio)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := "https://speech.googleapis.com/v1/speech:recognize?key=" + p.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google speech returned %d", resp.StatusCode)
	}

	var decoded struct {
		Results []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode google speech response: %w", err)
	}
	if len(decoded.Results) == 0 || len(decoded.Results[0].Alternatives) == 0 {
		return nil, fmt.Errorf("google speech returned no transcription")
	}

	best := decoded.Results[0].Alternatives[0]
	return &models.Transcription{
		Text:       best.Transcript,
		Confidence: best.Confidence,
		Provider:   p.Name(),
	}, nil
}

// whisperProvider calls the OpenAI audio transcription endpoint
type whisperProvider struct {
	apiKey string
	client *http.Client
}

func (p *whisperProvider) Name() string { return "whisper" }

func (p *whisperProvider) Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := writer.WriteField("model", "whisper-1"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode whisper response: %w", err)
	}
	if decoded.Text == "" {
		return nil, fmt.Errorf("whisper returned empty transcription")
	}

	// Whisper reports no confidence; treat a non-empty answer as solid
	return &models.Transcription{
		Text:       decoded.Text,
		Confidence: 0.9,
		Provider:   p.Name(),
	}, nil
}

// azureProvider calls the Azure Cognitive Services speech REST API
type azureProvider struct {
	apiKey string
	region string
	client *http.Client
}

func (p *azureProvider) Name() string { return "azure" }

func (p *azureProvider) Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error) {
	if p.region == "" {
		return nil, fmt.Errorf("azure speech region is not configured")
	}
	contentType := map[string]string{
		"wav": "audio/wav",
		"mp3": "audio/mpeg",
		"ogg": "audio/ogg",
	}[format]
	if contentType == "" {
		return nil, fmt.Errorf("azure speech does not accept %s audio", format)
	}

	url := fmt.Sprintf(
		"https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1?language=en-US",
		p.region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure speech returned %d", resp.StatusCode)
	}

	var decoded struct {
		RecognitionStatus string `json:"RecognitionStatus"`
		DisplayText       string `json:"DisplayText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode azure speech response: %w", err)
	}
	if decoded.RecognitionStatus != "Success" || decoded.DisplayText == "" {
		return nil, fmt.Errorf("azure speech recognition failed: %s", decoded.RecognitionStatus)
	}

	return &models.Transcription{
		Text:       decoded.DisplayText,
		Confidence: 0.85,
		Provider:   p.Name(),
	}, nil
}
