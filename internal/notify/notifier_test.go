package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// fakeSender records sent notifications and can be made to fail.
type fakeSender struct {
	name   string
	failed bool
	titles []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.failed {
		return errors.New("channel down")
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifier_FiltersDisallowedEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventProposalFinalized}, slog.Default())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventProposalInitialized, "ignored", "body"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(ctx, EventProposalFinalized, "delivered", "body"))
	assert.Equal(t, []string{"delivered"}, s.titles)
}

func TestNotifier_EmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_SenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", failed: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.Notify(context.Background(), "evt", "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"title"}, good.titles, "remaining senders still deliver")
}

func TestNotifier_LifecycleHelpers(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())
	ctx := context.Background()

	rec := domain.ProposalRecord{ID: 5, Description: "rotate signers", Status: domain.ProposalPassed}
	require.NoError(t, n.ProposalInitialized(ctx, rec))
	require.NoError(t, n.ProposalFinalized(ctx, rec))
	require.NoError(t, n.ProposalExecuted(ctx, domain.ExecutionResult{ProposalID: 5, Status: domain.ExecutionSuccess}))
	require.NoError(t, n.InitFailed(ctx, 5, errors.New("bundle dropped")))

	require.Len(t, s.titles, 4)
	assert.Equal(t, "Proposal 5 initialized", s.titles[0])
	assert.Equal(t, "Proposal 5 passed", s.titles[1])
	assert.Equal(t, "Proposal 5 executed", s.titles[2])
	assert.Equal(t, "Proposal 5 initialization failed", s.titles[3])
}
