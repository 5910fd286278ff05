package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/tracing"
)

const finishReasonStop = "STOP"

// Gemini calls the generateContent endpoint with inline image data
type Gemini struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

// NewGemini creates a Gemini image model
func NewGemini(client *http.Client, baseURL, model, apiKey string) *Gemini {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Gemini{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends one generateContent request
func (g *Gemini) Generate(ctx context.Context, req ModelRequest) (img *Image, err error) {
	span, ctx := tracing.StartClientSpan(ctx, "gemini", "generateContent")
	start := time.Now()
	defer func() {
		metrics.RecordProviderCall("gemini", "generate_content", time.Since(start).Seconds(), err)
		tracing.FinishSpan(span, err)
	}()

	body := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiInlineData{
					MIMEType: req.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(req.Photo),
				}},
			},
		}},
	}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// Transport failures are treated like an unavailable upstream
		return nil, &UpstreamError{Provider: g.Name(), StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: g.Name(), StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	var decoded geminiResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, &UpstreamError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &UpstreamError{Provider: g.Name(), StatusCode: http.StatusBadGateway, Message: "malformed response"}
	}

	return decoded.image()
}

func (r *geminiResponse) image() (*Image, error) {
	if r.PromptFeedback.BlockReason != "" {
		return nil, &SafetyError{Reason: strings.ToLower(r.PromptFeedback.BlockReason)}
	}
	if len(r.Candidates) == 0 {
		return nil, &UpstreamError{Provider: "gemini", Message: "no candidates returned"}
	}

	candidate := r.Candidates[0]
	if candidate.FinishReason != "" && candidate.FinishReason != finishReasonStop {
		return nil, &SafetyError{Reason: strings.ToLower(candidate.FinishReason)}
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &UpstreamError{Provider: "gemini", Message: "invalid image data"}
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = http.DetectContentType(data)
			}
			return &Image{Data: data, MIMEType: mime}, nil
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}

	// The model answered in words instead of an image
	if len(text) > 0 {
		return nil, &SafetyError{Reason: strings.Join(text, " ")}
	}
	return nil, &UpstreamError{Provider: "gemini", Message: "no image returned"}
}
