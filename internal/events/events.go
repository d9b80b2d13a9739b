// Package events carries pipeline events over a durable at-least-once
// queue.
//
// Handlers must be idempotent: a message is redelivered whenever its handler
// returns an error or does not finish within the ack deadline. Publishers
// pass a deduplication id so re-publishing the same event is dropped by the
// transport.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/learnloop/internal/learning"
)

// Subjects.
const (
	SubjectInteractionFinished = "learning.interaction.finished"
	SubjectEvaluationFinished  = "learning.evaluation.finished"

	// SubjectWildcard matches every learning subject.
	SubjectWildcard = "learning.>"
)

var (
	// ErrBusClosed is returned after Close.
	ErrBusClosed = errors.New("event bus closed")

	// ErrPermanent marks handler failures that must not be redelivered.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so the bus drops the message instead of redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Message is one delivery of an event.
type Message struct {
	Subject string
	// ID is the publisher's deduplication id.
	ID   string
	Data []byte
	// Delivery counts attempts, starting at 1.
	Delivery int
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return Permanent(fmt.Errorf("decoding %s payload: %w", m.Subject, err))
	}
	return nil
}

// Handler processes a message. A nil return acknowledges it.
type Handler func(ctx context.Context, msg Message) error

// Subscription is an active consumer.
type Subscription interface {
	// Close stops delivery, letting in-flight handlers finish.
	Close() error
}

// Bus publishes and consumes events.
type Bus interface {
	// Publish sends payload as JSON. A non-empty id deduplicates re-publishes.
	Publish(ctx context.Context, subject, id string, payload any) error
	// Subscribe delivers each message on subject to one member of group.
	Subscribe(ctx context.Context, subject, group string, h Handler) (Subscription, error)
	Close() error
}

// InteractionFinished is published when an answer has been produced.
type InteractionFinished struct {
	Interaction learning.Interaction `json:"interaction"`
}

// EvaluationFinished is published when an interaction has been graded.
type EvaluationFinished struct {
	Interaction learning.Interaction `json:"interaction"`
	Evaluation  learning.Evaluation  `json:"evaluation"`
}
