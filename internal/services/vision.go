package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// ErrVisionDisabled is returned when no API key is configured
var ErrVisionDisabled = errors.New("vision API key not configured")

// Feature limits requested per image
const (
	maxWebEntities = 20
	maxLabels      = 20
	maxColors      = 10
)

// VisionService handles communication with the Google Cloud Vision images:annotate API
type VisionService struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewVisionService creates a new Vision API service
func NewVisionService(apiKey, endpoint string, timeout time.Duration) *VisionService {
	if endpoint == "" {
		endpoint = "https://vision.googleapis.com/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &VisionService{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageSource `json:"image"`
	Features []feature   `json:"features"`
}

type imageSource struct {
	Source struct {
		ImageURI string `json:"imageUri"`
	} `json:"source"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []struct {
		models.ImageAnnotation
		Error *apiStatus `json:"error,omitempty"`
	} `json:"responses"`
	Error *apiStatus `json:"error,omitempty"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Enabled reports whether an API key is configured
func (v *VisionService) Enabled() bool {
	return v.apiKey != ""
}

// Annotate requests web detection, labels and dominant colors for a public image URL
func (v *VisionService) Annotate(ctx context.Context, imageURL string) (*models.ImageAnnotation, error) {
	if !v.Enabled() {
		return nil, ErrVisionDisabled
	}

	req := imageRequest{
		Features: []feature{
			{Type: "WEB_DETECTION", MaxResults: maxWebEntities},
			{Type: "LABEL_DETECTION", MaxResults: maxLabels},
			{Type: "IMAGE_PROPERTIES", MaxResults: maxColors},
		},
	}
	req.Image.Source.ImageURI = imageURL

	jsonBody, err := json.Marshal(annotateRequest{Requests: []imageRequest{req}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/images:annotate?key=%s", v.endpoint, url.QueryEscape(v.apiKey)),
		bytes.NewBuffer(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("body", string(body)).
			Msg("Vision API returned error")
		return nil, fmt.Errorf("vision API returned status %d", resp.StatusCode)
	}

	var parsed annotateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("vision API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Responses) == 0 {
		return nil, fmt.Errorf("no responses returned from vision API")
	}

	first := parsed.Responses[0]
	if first.Error != nil {
		return nil, fmt.Errorf("vision API image error %d: %s", first.Error.Code, first.Error.Message)
	}

	annotation := first.ImageAnnotation

	log.Debug().
		Str("image_url", imageURL).
		Int("web_entities", len(annotation.Entities())).
		Int("labels", len(annotation.LabelAnnotations)).
		Int("colors", len(annotation.DominantColors())).
		Msg("Image analyzed successfully")

	return &annotation, nil
}

// HealthCheck reports whether the vision capability is configured
func (v *VisionService) HealthCheck(ctx context.Context) error {
	if !v.Enabled() {
		return ErrVisionDisabled
	}
	return nil
}
