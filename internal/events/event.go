// Package events fans document status changes out to connected clients over server-sent
// events or WebSocket, and carries worker outcomes back to the request tier.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aulavoz/backend/internal/models"
)

// KindPrefix prefixes every document status event kind.
const KindPrefix = "pdf_audio_"

// Event is one message on the push stream.
type Event struct {
	Kind string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outcome is the terminal result of a pipeline run, and the payload of status events.
type Outcome struct {
	DocumentID uuid.UUID             `json:"document_id"`
	Status     models.DocumentStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
}

// Kind returns the event kind for the outcome's status, e.g. pdf_audio_concluido.
func (o Outcome) Kind() string {
	return KindFor(o.Status)
}

// Validate checks that a reported outcome names a document and a terminal status.
func (o Outcome) Validate() error {
	if o.DocumentID == uuid.Nil {
		return fmt.Errorf("document_id required")
	}
	if !o.Status.Terminal() {
		return fmt.Errorf("status must be %q or %q", models.StatusCompleted, models.StatusFailed)
	}
	return nil
}

// KindFor returns the event kind announcing status.
func KindFor(status models.DocumentStatus) string {
	return KindPrefix + string(status)
}

// Publisher is implemented by Notifier; handlers depend on it to stay testable.
type Publisher interface {
	Publish(kind string, payload interface{})
}

// PublishOutcome publishes o under its status kind.
func PublishOutcome(p Publisher, o Outcome) {
	p.Publish(o.Kind(), o)
}
