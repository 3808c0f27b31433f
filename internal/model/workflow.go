package model

import "time"

// Status is the single source of truth for which pipeline stage a workflow is in.
type Status string

const (
	StatusPending      Status = "pending"
	StatusScriptReady  Status = "script_ready"
	StatusRendering    Status = "rendering"
	StatusRenderDone   Status = "render_done"
	StatusEnhancing    Status = "enhancing"
	StatusEnhanceDone  Status = "enhance_done"
	StatusDistributing Status = "distributing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// transitions is the forward state graph. failed is reachable from every
// non-terminal state, and pending is re-enterable from failed via requeue.
var transitions = map[Status][]Status{
	StatusPending:      {StatusScriptReady, StatusFailed},
	StatusScriptReady:  {StatusRendering, StatusFailed},
	StatusRendering:    {StatusRenderDone, StatusFailed},
	StatusRenderDone:   {StatusEnhancing, StatusFailed},
	StatusEnhancing:    {StatusEnhanceDone, StatusFailed},
	StatusEnhanceDone:  {StatusDistributing, StatusFailed},
	StatusDistributing: {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusPending},
	StatusCompleted:    {},
}

// CanTransition reports whether from → to is a legal edge in the state graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state. Terminal workflows are
// immutable and retained only for audit/metrics.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known state machine value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// PlatformResult is the per-platform outcome of distribution.
// Exactly one of PostID and Error is set.
type PlatformResult struct {
	PostID string `json:"postId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Workflow is the only durable entity: one end-to-end attempt to turn a
// content seed into a published post. All quota, platform-list and
// webhook-routing decisions are scoped by Tenant.
type Workflow struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`
	Status Status `json:"status"`

	// SeedRef is an opaque reference to the content seed (article id, property
	// id, topic). The engine never interprets it.
	SeedRef string `json:"seedRef"`

	// Text produced during the pipeline. Write-once per field.
	Script  string `json:"script,omitempty"`
	Caption string `json:"caption,omitempty"`
	Title   string `json:"title,omitempty"`

	AgentID string `json:"agentId,omitempty"`

	RendererJobID     string `json:"rendererJobId,omitempty"`
	RendererOutputURL string `json:"rendererOutputUrl,omitempty"`

	EnhancerProjectID string `json:"enhancerProjectId,omitempty"`
	EnhancerOutputURL string `json:"enhancerOutputUrl,omitempty"`

	// Platforms resolved for this tenant at creation time.
	Platforms []string `json:"platforms,omitempty"`

	// Distribution is written exactly once, at the terminal transition.
	Distribution map[string]PlatformResult `json:"distribution,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`

	CreatedAt       time.Time  `json:"createdAt"`
	StatusChangedAt time.Time  `json:"statusChangedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	FailedAt        *time.Time `json:"failedAt,omitempty"`
}

// AgentUsage tracks how often a rendering identity has been selected for a
// tenant. Used by the round-robin selector.
type AgentUsage struct {
	AgentID    string    `json:"agentId"`
	UsageCount int       `json:"usageCount"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}
