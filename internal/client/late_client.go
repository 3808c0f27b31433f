package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ajnasrah/viralflow/internal/config"
)

// SocialAccount is a connected platform account under a Late profile.
type SocialAccount struct {
	ID       string `json:"_id"`
	Platform string `json:"platform"`
	Username string `json:"username"`
}

// PostRequest publishes one video to one platform.
type PostRequest struct {
	ProfileID string
	AccountID string
	Platform  string
	VideoURL  string
	Caption   string
}

// Publisher is the distribution contract the engine depends on. Posting is
// synchronous: the result of each platform is known when the call returns.
type Publisher interface {
	ListAccounts(ctx context.Context, profileID string) ([]SocialAccount, error)
	CreatePost(ctx context.Context, req PostRequest) (string, error)
	IsConfigured() bool
}

// LateClient handles communication with the Late publishing API.
type LateClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewLateClient(cfg *config.LateConfig) *LateClient {
	return &LateClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type lateAccountsResponse struct {
	Accounts []SocialAccount `json:"accounts"`
}

type latePostRequest struct {
	Content    string             `json:"content"`
	Platforms  []latePlatformSpec `json:"platforms"`
	MediaItems []lateMediaItem    `json:"mediaItems"`
	PublishNow bool               `json:"publishNow"`
}

type latePlatformSpec struct {
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
}

type lateMediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type latePostResponse struct {
	Post struct {
		ID string `json:"_id"`
	} `json:"post"`
	ID string `json:"_id"`
}

// ListAccounts returns the connected accounts for a profile.
func (c *LateClient) ListAccounts(ctx context.Context, profileID string) ([]SocialAccount, error) {
	if !c.IsConfigured() {
		return []SocialAccount{
			{ID: "mock-tiktok", Platform: "tiktok", Username: "mock"},
			{ID: "mock-instagram", Platform: "instagram", Username: "mock"},
			{ID: "mock-youtube", Platform: "youtube", Username: "mock"},
			{ID: "mock-facebook", Platform: "facebook", Username: "mock"},
		}, nil
	}

	path := "/accounts?profileId=" + url.QueryEscape(profileID)
	var out lateAccountsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// CreatePost publishes the video to a single platform account and returns the
// post id. One call per platform keeps failures isolated per platform.
func (c *LateClient) CreatePost(ctx context.Context, req PostRequest) (string, error) {
	if !c.IsConfigured() {
		mockID := "mock-post-" + uuid.New().String()[:8]
		log.Printf("[Late API] mock mode, %s post id %s", req.Platform, mockID)
		return mockID, nil
	}

	body := latePostRequest{
		Content: req.Caption,
		Platforms: []latePlatformSpec{{
			Platform:  req.Platform,
			AccountID: req.AccountID,
		}},
		MediaItems: []lateMediaItem{{Type: "video", URL: req.VideoURL}},
		PublishNow: true,
	}

	var out latePostResponse
	if err := c.doJSON(ctx, http.MethodPost, "/posts", body, &out); err != nil {
		return "", err
	}

	id := out.Post.ID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", fmt.Errorf("late post returned no id")
	}
	log.Printf("[Late API] → %s post published, id %s", req.Platform, id)
	return id, nil
}

func (c *LateClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return fmt.Errorf("late API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *LateClient) IsConfigured() bool {
	return c.apiKey != ""
}
