// Package generation produces hairstyle previews through an external image model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ImageModel edits a photo according to a text instruction
type ImageModel interface {
	Name() string
	Generate(ctx context.Context, req ModelRequest) (*Image, error)
}

// ModelRequest is what a model receives
type ModelRequest struct {
	Photo    []byte
	MIMEType string
	Prompt   string
}

// Image is a generated picture
type Image struct {
	Data     []byte
	MIMEType string
}

// UpstreamError is a failed call to the image model
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ServerSide reports whether the upstream failed with a 5xx status
func (e *UpstreamError) ServerSide() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// SafetyError means the model refused the request on content grounds
type SafetyError struct {
	Reason string
}

func (e *SafetyError) Error() string {
	return "generation blocked: " + e.Reason
}

// IsServerError reports whether err is a 5xx upstream failure
func IsServerError(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.ServerSide()
}
