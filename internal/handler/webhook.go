package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ajnasrah/viralflow/internal/engine"
	"github.com/ajnasrah/viralflow/internal/store"
	"github.com/ajnasrah/viralflow/pkg/response"
)

// WebhookHandler receives renderer and enhancer callbacks. Processing is
// idempotent in the engine, so the handler's job is authentication, payload
// parsing and always acknowledging callbacks we intentionally drop. Upstreams
// retry on non-2xx; returning an error for an unknown or duplicate id would
// only generate retry storms.
type WebhookHandler struct {
	engine        *engine.Engine
	token         string
	signingSecret string
}

func NewWebhookHandler(eng *engine.Engine, token, signingSecret string) *WebhookHandler {
	return &WebhookHandler{engine: eng, token: token, signingSecret: signingSecret}
}

type heygenWebhookPayload struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID    string `json:"video_id"`
		URL        string `json:"url"`
		CallbackID string `json:"callback_id"`
		Msg        string `json:"msg"`
	} `json:"event_data"`
}

// HeyGen handles avatar_video.success / avatar_video.fail callbacks.
// Authenticated by the shared token, carried in the callback URL query or the
// X-Webhook-Token header.
func (h *WebhookHandler) HeyGen(c *fiber.Ctx) error {
	tenant := c.Params("tenant")

	token := c.Query("token")
	if token == "" {
		token = c.Get("X-Webhook-Token")
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		return response.Unauthorized(c, "Invalid webhook token")
	}

	var payload heygenWebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return response.ValidationError(c, "Malformed webhook payload", nil)
	}
	if payload.EventData.VideoID == "" {
		return response.ValidationError(c, "Missing video_id", nil)
	}

	log.Printf("[Webhook] heygen %s for %s, video %s", payload.EventType, tenant, payload.EventData.VideoID)

	switch payload.EventType {
	case "avatar_video.success":
		err := h.engine.HandleRenderResult(c.Context(), tenant, payload.EventData.VideoID, true, payload.EventData.URL, "")
		return h.ack(c, tenant, payload.EventData.VideoID, err)
	case "avatar_video.fail":
		err := h.engine.HandleRenderResult(c.Context(), tenant, payload.EventData.VideoID, false, "", payload.EventData.Msg)
		return h.ack(c, tenant, payload.EventData.VideoID, err)
	default:
		// Unrecognized event types are acknowledged and ignored.
		log.Printf("[Webhook] ignoring heygen event %q", payload.EventType)
		return response.OK(c, fiber.Map{"received": true})
	}
}

type submagicWebhookPayload struct {
	ProjectID   string `json:"projectId"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl"`
	Error       string `json:"error"`
}

// Submagic handles enhancer project callbacks, authenticated by an
// HMAC-SHA256 signature of the raw body in the x-webhook-signature header.
func (h *WebhookHandler) Submagic(c *fiber.Ctx) error {
	tenant := c.Params("tenant")

	if !h.verifySignature(c.Body(), c.Get("x-webhook-signature")) {
		return response.Unauthorized(c, "Invalid webhook signature")
	}

	var payload submagicWebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return response.ValidationError(c, "Malformed webhook payload", nil)
	}
	projectID := payload.ProjectID
	if projectID == "" {
		projectID = payload.ID
	}
	if projectID == "" {
		return response.ValidationError(c, "Missing project id", nil)
	}

	log.Printf("[Webhook] submagic %s for %s, project %s", payload.Status, tenant, projectID)

	switch strings.ToLower(payload.Status) {
	case "completed", "done", "exported":
		err := h.engine.HandleEnhanceResult(c.Context(), tenant, projectID, true, payload.DownloadURL, "")
		return h.ack(c, tenant, projectID, err)
	case "failed", "error":
		err := h.engine.HandleEnhanceResult(c.Context(), tenant, projectID, false, "", payload.Error)
		return h.ack(c, tenant, projectID, err)
	default:
		// Intermediate progress events carry no transition.
		return response.OK(c, fiber.Map{"received": true})
	}
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.signingSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// ack converts engine outcomes into webhook responses. Unknown ids are
// acknowledged so upstream stops retrying a callback we can never route.
func (h *WebhookHandler) ack(c *fiber.Ctx, tenant, upstreamID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[Webhook] no workflow for %s id %s, dropping", tenant, upstreamID)
		return response.OK(c, fiber.Map{"received": true, "matched": false})
	}
	if err != nil {
		log.Printf("[Webhook] processing failed for %s id %s: %v", tenant, upstreamID, err)
		return response.ServiceError(c, "Webhook processing failed")
	}
	return response.OK(c, fiber.Map{"received": true, "matched": true})
}
