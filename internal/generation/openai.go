package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/tracing"
	openai "github.com/sashabaranov/go-openai"
)

const contentPolicyCode = "content_policy_violation"

// OpenAI edits photos through the image edit endpoint
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI image model
func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIWithConfig creates an OpenAI image model from a client config
func NewOpenAIWithConfig(cfg openai.ClientConfig, model string) *OpenAI {
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

// Generate sends one image edit request
func (o *OpenAI) Generate(ctx context.Context, req ModelRequest) (img *Image, err error) {
	span, ctx := tracing.StartClientSpan(ctx, "openai", "images.edit")
	start := time.Now()
	defer func() {
		metrics.RecordProviderCall("openai", "images_edit", time.Since(start).Seconds(), err)
		tracing.FinishSpan(span, err)
	}()

	// The edit endpoint uploads from a file
	f, err := os.CreateTemp("", "haircut-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(req.Photo); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}

	resp, err := o.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          f,
		Prompt:         req.Prompt,
		Model:          o.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, o.translate(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &UpstreamError{Provider: o.Name(), Message: "no image returned"}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &UpstreamError{Provider: o.Name(), Message: "invalid image data"}
	}
	return &Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func (o *OpenAI) translate(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == contentPolicyCode {
			return &SafetyError{Reason: apiErr.Message}
		}
		return &UpstreamError{Provider: o.Name(), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Provider: o.Name(), StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UpstreamError{Provider: o.Name(), StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
}
