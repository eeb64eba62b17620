// Package pipeline runs the indexing stages. Each stage consumes one
// durable queue, does its work, forwards follow-up tasks and only then
// acknowledges, so every task is handled at least once.
package pipeline

import (
	"encoding/json"
	"strings"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// Task is a unit of work addressed to a queue.
type Task struct {
	Queue string
	Body  []byte
	// Redelivered is set when the broker has handed this task out before.
	Redelivered bool
}

// EmbedPayload is the body of an embed-stage task.
type EmbedPayload struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// NewEmbedTask encodes p for queue.
func NewEmbedTask(queue string, p EmbedPayload) (Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Task{}, ragerrors.InternalError("failed to encode embed payload", err)
	}
	return Task{Queue: queue, Body: body}, nil
}

// DecodeEmbedPayload parses an embed-stage body.
func DecodeEmbedPayload(body []byte) (EmbedPayload, error) {
	var p EmbedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, ragerrors.New(ragerrors.ErrCodeInvalidPayload, "malformed embed payload", err)
	}
	if p.DocID == "" {
		return p, ragerrors.New(ragerrors.ErrCodeInvalidPayload, "embed payload has no doc_id", nil)
	}
	return p, nil
}

// textPayload returns a plain-text body (a URL or document id), rejecting
// blank ones.
func textPayload(t Task, what string) (string, error) {
	s := strings.TrimSpace(string(t.Body))
	if s == "" {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidPayload, "empty "+what+" payload", nil).
			WithDetail("queue", t.Queue)
	}
	return s, nil
}
