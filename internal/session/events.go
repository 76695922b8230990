package session

import (
	"time"

	"deepresearch/internal/types"
)

// EventKind tags a progress event.
type EventKind string

const (
	EventPhase EventKind = "phase"
	EventStats EventKind = "stats"
	EventToken EventKind = "token"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is one progress message delivered to session observers.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	Phase          types.Phase              `json:"phase,omitempty"`
	Cycle          int                      `json:"cycle,omitempty"`
	EntitiesFound  int                      `json:"entities_found,omitempty"`
	FactsExtracted int                      `json:"facts_extracted,omitempty"`
	Saturation     *types.SaturationMetrics `json:"saturation_metrics,omitempty"`
	StopReason     types.StopReason         `json:"stop_reason,omitempty"`
	Token          string                   `json:"token,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// subscriber buffers events; a slow observer loses events rather than
// blocking the pipeline.
const subscriberBuffer = 64
