// Package notify provides a multi-channel notification system for proposal
// lifecycle events. Notifications are dispatched to all registered senders
// (Telegram, Discord, etc.) and can be filtered by event type so operators
// receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Well-known lifecycle event types.
const (
	EventProposalInitialized = "proposal_initialized"
	EventProposalFinalized   = "proposal_finalized"
	EventProposalExecuted    = "proposal_executed"
	EventInitFailed          = "init_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards messages whose event type is in
// the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// ProposalInitialized announces that a proposal entered its voting window.
func (n *Notifier) ProposalInitialized(ctx context.Context, rec domain.ProposalRecord) error {
	return n.Notify(ctx, EventProposalInitialized,
		fmt.Sprintf("Proposal %d initialized", rec.ID),
		fmt.Sprintf("%s\nVoting ends %s", rec.Description, rec.FinalizedAt.UTC().Format("2006-01-02 15:04 MST")),
	)
}

// ProposalFinalized announces the decision reached at the deadline.
func (n *Notifier) ProposalFinalized(ctx context.Context, rec domain.ProposalRecord) error {
	return n.Notify(ctx, EventProposalFinalized,
		fmt.Sprintf("Proposal %d %s", rec.ID, rec.Status),
		fmt.Sprintf("%s\nTWAP pass %.6f / fail %.6f", rec.Description, rec.TWAPPass, rec.TWAPFail),
	)
}

// ProposalExecuted announces the payload execution outcome.
func (n *Notifier) ProposalExecuted(ctx context.Context, result domain.ExecutionResult) error {
	msg := fmt.Sprintf("Signature %s, status %s", result.Signature, result.Status)
	if result.Err != "" {
		msg += "\nError: " + result.Err
	}
	return n.Notify(ctx, EventProposalExecuted,
		fmt.Sprintf("Proposal %d executed", result.ProposalID),
		msg,
	)
}

// InitFailed announces a failed or stuck initialization.
func (n *Notifier) InitFailed(ctx context.Context, proposalID uint64, err error) error {
	return n.Notify(ctx, EventInitFailed,
		fmt.Sprintf("Proposal %d initialization failed", proposalID),
		err.Error(),
	)
}

// dispatch delivers the notification to every sender. A failing sender never
// blocks the remaining ones; all failures come back joined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err == nil {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			continue
		}
		n.logger.ErrorContext(ctx, "sender failed",
			slog.String("sender", s.Name()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
	}
	return errors.Join(errs...)
}
