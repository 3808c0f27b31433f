package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajnasrah/viralflow/internal/config"
)

// EnhanceRequest asks the enhancer to caption and cut a rendered video.
type EnhanceRequest struct {
	VideoURL    string
	Title       string
	Language    string
	CallbackURL string
}

// EnhanceStatus is a point-in-time poll result for an enhancer project.
type EnhanceStatus struct {
	State       JobState
	DownloadURL string
	Error       string
}

// VideoEnhancer is the caption/enhancement contract the engine depends on.
type VideoEnhancer interface {
	CreateProject(ctx context.Context, req EnhanceRequest) (string, error)
	ProjectStatus(ctx context.Context, projectID string) (*EnhanceStatus, error)
	ExportProject(ctx context.Context, projectID string) error
	IsConfigured() bool
}

// SubmagicClient handles communication with the Submagic API.
type SubmagicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewSubmagicClient(cfg *config.SubmagicConfig) *SubmagicClient {
	return &SubmagicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type submagicCreateRequest struct {
	Title        string `json:"title"`
	Language     string `json:"language"`
	VideoURL     string `json:"videoUrl"`
	TemplateName string `json:"templateName"`
	MagicBrolls  bool   `json:"magicBrolls"`
	MagicZooms   bool   `json:"magicZooms"`
	WebhookURL   string `json:"webhookUrl,omitempty"`
}

type submagicProject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl"`
	Error       string `json:"error"`
}

// CreateProject submits a rendered video for captioning and returns the
// project id. Mock fallback when unconfigured.
func (c *SubmagicClient) CreateProject(ctx context.Context, req EnhanceRequest) (string, error) {
	if !c.IsConfigured() {
		mockID := "mock-submagic-" + uuid.New().String()[:8]
		log.Printf("[Submagic API] mock mode, returning project id %s", mockID)
		return mockID, nil
	}

	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	body := submagicCreateRequest{
		Title:        req.Title,
		Language:     lang,
		VideoURL:     req.VideoURL,
		TemplateName: "Hormozi 2",
		MagicBrolls:  true,
		MagicZooms:   true,
		WebhookURL:   req.CallbackURL,
	}

	var proj submagicProject
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects", body, &proj); err != nil {
		return "", err
	}
	if proj.ID == "" {
		return "", fmt.Errorf("submagic create returned no project id")
	}

	log.Printf("[Submagic API] → project created, id %s", proj.ID)
	return proj.ID, nil
}

// ProjectStatus polls an enhancer project.
func (c *SubmagicClient) ProjectStatus(ctx context.Context, projectID string) (*EnhanceStatus, error) {
	if !c.IsConfigured() {
		return &EnhanceStatus{State: JobCompleted, DownloadURL: "https://example.com/mock/" + projectID + "-captioned.mp4"}, nil
	}

	var proj submagicProject
	if err := c.doJSON(ctx, http.MethodGet, "/v1/projects/"+projectID, nil, &proj); err != nil {
		return nil, err
	}

	st := &EnhanceStatus{DownloadURL: proj.DownloadURL}
	switch strings.ToLower(proj.Status) {
	case "completed", "done", "exported":
		st.State = JobCompleted
	case "failed", "error":
		st.State = JobFailed
		st.Error = proj.Error
	default:
		st.State = JobProcessing
	}
	return st, nil
}

// ExportProject triggers rendering of the final captioned file. Needed when a
// project finishes processing without a download URL.
func (c *SubmagicClient) ExportProject(ctx context.Context, projectID string) error {
	if !c.IsConfigured() {
		return nil
	}
	var out json.RawMessage
	return c.doJSON(ctx, http.MethodPost, "/v1/projects/"+projectID+"/export", struct{}{}, &out)
}

func (c *SubmagicClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("submagic API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *SubmagicClient) IsConfigured() bool {
	return c.apiKey != ""
}
