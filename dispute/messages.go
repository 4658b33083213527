package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"disputeflow/logger"
)

const maxMessageLength = 4000

// PostMessage appends a chat message from one of the parties. Chat stays open
// while the dispute is negotiable or awaiting approval.
func (s *Service) PostMessage(ctx context.Context, caller Identity, id, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	if len(content) > maxMessageLength {
		return Message{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxMessageLength)
	}

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}
	role, err := requireParty(d, caller)
	if err != nil {
		return Message{}, err
	}
	if !d.Status.Negotiable() && d.Status != StatusPendingApproval {
		return Message{}, stateError("post a message", d.Status)
	}

	msg, err := s.repo.AddMessage(ctx, Message{
		ID:          s.idGenerator(),
		DisputeID:   d.ID,
		SenderID:    caller.ID,
		SenderEmail: caller.Email,
		SenderRole:  role,
		Content:     content,
	}, s.messageLimit)
	if err != nil {
		return Message{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(d.ID), UserID: logger.Ptr(caller.ID)})
	slog.DebugContext(ctx, "message posted", "role", role)
	s.dispatch(ctx, caller, "message", d, d)
	return msg, nil
}

// Messages returns the chat transcript ordered by time.
func (s *Service) Messages(ctx context.Context, caller Identity, id string) ([]Message, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, id)
}
