package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	deps     Deps
}

func NewMessageService(repos repository.Repositories, deps Deps) *MessageService {
	return &MessageService{messages: repos.Messages, users: repos.Users, deps: deps.withDefaults()}
}

type SendMessageInput struct {
	RecipientID string
	Subject     string
	Content     string
	ParentID    string
}

func (s *MessageService) Send(ctx context.Context, caller models.Caller, in SendMessageInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if in.RecipientID == caller.ID {
		return nil, invalid("cannot send a message to yourself")
	}

	recipient, err := s.users.GetByID(ctx, in.RecipientID)
	if err != nil {
		return nil, err
	}
	if !recipient.IsActive {
		return nil, invalid("recipient account is not active")
	}
	if !canMessage(caller, recipient) {
		return nil, models.ErrForbidden
	}

	if in.ParentID != "" {
		parent, err := s.messages.GetByID(ctx, in.ParentID)
		if errors.Is(err, models.ErrMessageNotFound) {
			return nil, invalid("parentMessageId does not identify a message")
		}
		if err != nil {
			return nil, fmt.Errorf("loading parent message: %w", err)
		}
		if parent.SenderID != caller.ID && parent.ReceiverID != caller.ID {
			return nil, models.ErrForbidden
		}
	}

	m := &models.Message{
		SenderID:   caller.ID,
		ReceiverID: recipient.ID,
		ParentID:   in.ParentID,
		Subject:    strings.TrimSpace(in.Subject),
		Content:    content,
		Status:     models.MessageStatusSent,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		s.deps.Log.Error("failed to send message", zap.Error(err))
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return m, nil
}

// List returns the caller's messages, optionally only those exchanged with
// withUserID. Reading a single conversation marks its incoming messages read.
func (s *MessageService) List(ctx context.Context, caller models.Caller, withUserID string) ([]models.Message, error) {
	msgs, err := s.messages.ListFor(ctx, caller.ID, withUserID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	if withUserID == "" {
		return msgs, nil
	}

	now := s.deps.Now()
	var unread []string
	for i := range msgs {
		if msgs[i].ReceiverID == caller.ID && msgs[i].Status == models.MessageStatusSent {
			unread = append(unread, msgs[i].ID)
			msgs[i].Status = models.MessageStatusRead
			msgs[i].ReadAt = &now
		}
	}
	if err := s.messages.MarkRead(ctx, unread, now); err != nil {
		return nil, fmt.Errorf("marking messages read: %w", err)
	}
	return msgs, nil
}

func (s *MessageService) Since(ctx context.Context, caller models.Caller, since time.Time) ([]models.Message, error) {
	return s.messages.ListSince(ctx, caller.ID, since)
}

// Conversations summarizes each counterpart, most recent exchange first.
func (s *MessageService) Conversations(ctx context.Context, caller models.Caller) ([]models.Conversation, error) {
	partners, err := s.messages.Partners(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation partners: %w", err)
	}

	out := make([]models.Conversation, 0, len(partners))
	for _, partnerID := range partners {
		partner, err := s.users.GetByID(ctx, partnerID)
		if errors.Is(err, models.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		last, err := s.messages.LatestBetween(ctx, caller.ID, partnerID)
		if err != nil {
			return nil, err
		}
		unread, err := s.messages.CountUnread(ctx, partnerID, caller.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Conversation{
			Partner:     partner.Sanitize(),
			LastMessage: *last,
			UnreadCount: unread,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

// MarkRead is allowed only for the message's recipient.
func (s *MessageService) MarkRead(ctx context.Context, caller models.Caller, id string) (*models.Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != caller.ID {
		return nil, models.ErrForbidden
	}
	if m.Status == models.MessageStatusRead {
		return m, nil
	}
	now := s.deps.Now()
	if err := s.messages.MarkRead(ctx, []string{m.ID}, now); err != nil {
		return nil, fmt.Errorf("marking message read: %w", err)
	}
	m.Status = models.MessageStatusRead
	m.ReadAt = &now
	return m, nil
}
