package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajnasrah/viralflow/internal/config"
)

// JobState is the normalized progress of an upstream render or enhance job.
type JobState string

const (
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// RenderRequest is everything the renderer needs to produce an avatar video.
type RenderRequest struct {
	Script      string
	AvatarID    string
	VoiceID     string
	CallbackID  string
	CallbackURL string
}

// RenderStatus is a point-in-time poll result for a render job.
type RenderStatus struct {
	State    JobState
	VideoURL string
	Error    string
}

// VideoGenerator is the renderer contract the engine depends on.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req RenderRequest) (string, error)
	VideoStatus(ctx context.Context, jobID string) (*RenderStatus, error)
	RemainingCredits(ctx context.Context) (int, error)
	IsConfigured() bool
}

// HeyGenClient handles communication with the HeyGen API.
type HeyGenClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewHeyGenClient(cfg *config.HeyGenConfig) *HeyGenClient {
	return &HeyGenClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type heygenGenerateRequest struct {
	CallbackID string             `json:"callback_id,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   heygenDimension    `json:"dimension"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenCharacter struct {
	Type     string `json:"type"`
	AvatarID string `json:"avatar_id"`
}

type heygenVoice struct {
	Type      string `json:"type"`
	VoiceID   string `json:"voice_id"`
	InputText string `json:"input_text"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenGenerateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type heygenStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

type heygenQuotaResponse struct {
	Data struct {
		RemainingQuota int `json:"remaining_quota"`
	} `json:"data"`
}

// GenerateVideo submits an avatar render and returns the upstream video id.
// Falls back to a mock id when no API key is configured so the pipeline stays
// exercisable in local development.
func (c *HeyGenClient) GenerateVideo(ctx context.Context, req RenderRequest) (string, error) {
	if !c.IsConfigured() {
		mockID := "mock-heygen-" + uuid.New().String()[:8]
		log.Printf("[HeyGen API] mock mode, returning video id %s", mockID)
		return mockID, nil
	}

	body := heygenGenerateRequest{
		CallbackID:  req.CallbackID,
		CallbackURL: req.CallbackURL,
		VideoInputs: []heygenVideoInput{{
			Character: heygenCharacter{Type: "avatar", AvatarID: req.AvatarID},
			Voice:     heygenVoice{Type: "text", VoiceID: req.VoiceID, InputText: req.Script},
		}},
		// Vertical 9:16 for short-form platforms.
		Dimension: heygenDimension{Width: 720, Height: 1280},
	}

	var out heygenGenerateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/video/generate", body, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("heygen generate rejected: %s (%s)", out.Error.Message, out.Error.Code)
	}
	if out.Data.VideoID == "" {
		return "", fmt.Errorf("heygen generate returned no video id")
	}

	log.Printf("[HeyGen API] → render submitted, video id %s", out.Data.VideoID)
	return out.Data.VideoID, nil
}

// VideoStatus polls a render job.
func (c *HeyGenClient) VideoStatus(ctx context.Context, jobID string) (*RenderStatus, error) {
	if !c.IsConfigured() {
		return &RenderStatus{State: JobCompleted, VideoURL: "https://example.com/mock/" + jobID + ".mp4"}, nil
	}

	path := "/v1/video_status.get?video_id=" + url.QueryEscape(jobID)
	var out heygenStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	st := &RenderStatus{VideoURL: out.Data.VideoURL}
	switch strings.ToLower(out.Data.Status) {
	case "completed":
		st.State = JobCompleted
	case "failed":
		st.State = JobFailed
		if out.Data.Error != nil {
			st.Error = out.Data.Error.Message
		}
	default:
		st.State = JobProcessing
	}
	return st, nil
}

// RemainingCredits returns the account's remaining render credits. The API
// reports quota in seconds; 60 seconds equals one credit.
func (c *HeyGenClient) RemainingCredits(ctx context.Context) (int, error) {
	if !c.IsConfigured() {
		return 1000, nil
	}

	var out heygenQuotaResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/user/remaining_quota", nil, &out); err != nil {
		return 0, err
	}
	return out.Data.RemainingQuota / 60, nil
}

func (c *HeyGenClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
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
		return fmt.Errorf("heygen API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *HeyGenClient) IsConfigured() bool {
	return c.apiKey != ""
}
