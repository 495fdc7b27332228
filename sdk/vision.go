package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RecognizedProblem is one problem the backend extracted from an image.
type RecognizedProblem struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Expression string `json:"expression"`
}

// RecognitionResult is the response of POST /api/v1/vision/recognize.
type RecognitionResult struct {
	Success           bool                `json:"success"`
	Problems          []RecognizedProblem `json:"problems"`
	Confidence        float64             `json:"confidence"`
	NeedsConfirmation bool                `json:"needs_confirmation"`
}

// VisionService calls the problem-recognition endpoint.
type VisionService struct {
	client *Client
}

// Recognize submits raw base64 image data with its MIME type.
// This is the request shape the camera flow uses.
func (s *VisionService) Recognize(ctx context.Context, imageData, mimeType string) (*RecognitionResult, error) {
	payload := struct {
		ImageData string `json:"imageData"`
		MimeType  string `json:"mimeType"`
	}{ImageData: imageData, MimeType: mimeType}
	return s.recognize(ctx, payload)
}

// RecognizeTyped submits base64 image data with an explicit recognition type
// (for example "math_problem").
func (s *VisionService) RecognizeTyped(ctx context.Context, image, recognitionType string) (*RecognitionResult, error) {
	payload := struct {
		Image           string `json:"image"`
		RecognitionType string `json:"recognition_type"`
	}{Image: image, RecognitionType: recognitionType}
	return s.recognize(ctx, payload)
}

func (s *VisionService) recognize(ctx context.Context, payload any) (*RecognitionResult, error) {
	resp, _, err := s.client.postJSON(ctx, "/api/v1/vision/recognize", payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("問題の読み取りに失敗しました: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var result RecognitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("coach: decode recognition response: %w", err)
	}
	return &result, nil
}
