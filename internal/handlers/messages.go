package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// MessageHandler handles messaging related requests.
type MessageHandler struct {
	messages *services.MessageService
	log      *zap.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messages *services.MessageService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: log}
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	RecipientID     string `json:"recipientId" binding:"required,uuid"`
	Content         string `json:"content" binding:"required,max=5000"`
	Subject         string `json:"subject" binding:"max=255"`
	ParentMessageID string `json:"parentMessageId" binding:"omitempty,uuid"`
}

// SendMessage handles sending a new message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), who, services.SendMessageInput{
		RecipientID: req.RecipientID,
		Subject:     req.Subject,
		Content:     req.Content,
		ParentID:    req.ParentMessageID,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Created(c, "Message sent successfully", msg)
}

// GetMessagesForUser lists the caller's messages. With ?withUserId= it
// returns one thread and marks the counterpart's messages read.
func (h *MessageHandler) GetMessagesForUser(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	msgs, err := h.messages.List(c.Request.Context(), who, c.Query("withUserId"))
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Messages fetched successfully", msgs)
}

// GetConversations handles fetching a summary of each conversation.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	conversations, err := h.messages.Conversations(c.Request.Context(), who)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Conversations fetched successfully", conversations)
}

// MarkMessageAsRead marks a message as read; only its recipient may do so.
func (h *MessageHandler) MarkMessageAsRead(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	msg, err := h.messages.MarkRead(c.Request.Context(), who, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Message marked as read", msg)
}

// NewMessagesRequest represents the query params for getting new messages
type NewMessagesRequest struct {
	Since string `form:"since" binding:"required"`
}

// GetNewMessages handles fetching messages sent or received after ?since=.
func (h *MessageHandler) GetNewMessages(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req NewMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	since, err := time.Parse(time.RFC3339, req.Since)
	if err != nil {
		utils.BadRequest(c, "Invalid timestamp format. Use RFC3339 format (e.g., 2006-01-02T15:04:05Z07:00)")
		return
	}

	msgs, err := h.messages.Since(c.Request.Context(), who, since)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "New messages fetched successfully", msgs)
}
