package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	defaultMyMemoryEndpoint = "https://api.mymemory.translated.net"
	defaultLibreEndpoint    = "https://libretranslate.com"
	defaultLingvaEndpoint   = "https://lingva.ml"

	// detection requests only need a sample of the text
	detectSampleLen = 100
)

// Provider is a single remote translation service. Providers are free-tier
// APIs with unpredictable rate limits; any error is recoverable by trying
// the next provider in the engine's rotation.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Detector identifies the language of a text sample.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) (string, error)
}

// MyMemory calls the MyMemory translated.net API. It also serves as the
// primary language detector.
type MyMemory struct {
	endpoint string
	client   *http.Client
}

func NewMyMemory(endpoint string, client *http.Client) *MyMemory {
	if endpoint == "" {
		endpoint = defaultMyMemoryEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MyMemory{endpoint: endpoint, client: client}
}

func (m *MyMemory) Name() string { return "MyMemory" }

type myMemoryResponse struct {
	ResponseStatus json.RawMessage `json:"responseStatus"`
	ResponseData   struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	Matches []struct {
		Source string `json:"source"`
	} `json:"matches"`
}

func (m *MyMemory) get(ctx context.Context, query, langPair string) (*myMemoryResponse, error) {
	u := fmt.Sprintf("%s/get?q=%s&langpair=%s",
		m.endpoint, url.QueryEscape(query), url.QueryEscape(langPair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mymemory: unexpected status %d", resp.StatusCode)
	}
	var out myMemoryResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mymemory: malformed response: %w", err)
	}
	return &out, nil
}

func (m *MyMemory) Translate(ctx context.Context, text, source, target string) (string, error) {
	out, err := m.get(ctx, text, source+"|"+target)
	if err != nil {
		return "", err
	}
	if out.ResponseData.TranslatedText == "" {
		return "", fmt.Errorf("mymemory: empty translation")
	}
	return out.ResponseData.TranslatedText, nil
}

func (m *MyMemory) Detect(ctx context.Context, text string) (string, error) {
	out, err := m.get(ctx, truncate(text, detectSampleLen), "auto|en")
	if err != nil {
		return "", err
	}
	if len(out.Matches) == 0 || out.Matches[0].Source == "" {
		return "", fmt.Errorf("mymemory: no detection match")
	}
	return out.Matches[0].Source, nil
}

// LibreTranslate calls a LibreTranslate instance. It doubles as the
// secondary language detector via the /detect endpoint.
type LibreTranslate struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewLibreTranslate(endpoint, apiKey string, client *http.Client) *LibreTranslate {
	if endpoint == "" {
		endpoint = defaultLibreEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LibreTranslate{endpoint: endpoint, apiKey: apiKey, client: client}
}

func (l *LibreTranslate) Name() string { return "LibreTranslate" }

func (l *LibreTranslate) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("libretranslate: unexpected status %d", resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("libretranslate: malformed response: %w", err)
	}
	return nil
}

func (l *LibreTranslate) Translate(ctx context.Context, text, source, target string) (string, error) {
	body := map[string]string{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	}
	if l.apiKey != "" {
		body["api_key"] = l.apiKey
	}
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := l.post(ctx, "/translate", body, &out); err != nil {
		return "", err
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("libretranslate: empty translation")
	}
	return out.TranslatedText, nil
}

func (l *LibreTranslate) Detect(ctx context.Context, text string) (string, error) {
	body := map[string]string{"q": truncate(text, detectSampleLen)}
	if l.apiKey != "" {
		body["api_key"] = l.apiKey
	}
	var out []struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	}
	if err := l.post(ctx, "/detect", body, &out); err != nil {
		return "", err
	}
	if len(out) == 0 || out[0].Language == "" {
		return "", fmt.Errorf("libretranslate: no detection match")
	}
	return out[0].Language, nil
}

// Lingva calls a Lingva Translate instance.
type Lingva struct {
	endpoint string
	client   *http.Client
}

func NewLingva(endpoint string, client *http.Client) *Lingva {
	if endpoint == "" {
		endpoint = defaultLingvaEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Lingva{endpoint: endpoint, client: client}
}

func (l *Lingva) Name() string { return "Lingva" }

func (l *Lingva) Translate(ctx context.Context, text, source, target string) (string, error) {
	u := fmt.Sprintf("%s/api/v1/%s/%s/%s",
		l.endpoint, url.PathEscape(source), url.PathEscape(target), url.PathEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("lingva: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Translation string `json:"translation"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("lingva: malformed response: %w", err)
	}
	if out.Translation == "" {
		return "", fmt.Errorf("lingva: empty translation")
	}
	return out.Translation, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
