package chats

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

// Notifier delivers a push notification when the recipient has no live
// websocket connection.
type Notifier interface {
	NotifyUser(userID uint, title, body string, data map[string]string)
}

// ChatHandler serves the conversation REST API and the websocket
// endpoint. Messages sent over either path go through the same
// persistence and delivery code.
type ChatHandler struct {
	db       *gorm.DB
	hub      *models.Hub
	notifier Notifier
}

func NewChatHandler(db *gorm.DB, hub *models.Hub, notifier Notifier) *ChatHandler {
	return &ChatHandler{db: db, hub: hub, notifier: notifier}
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", utils.AuthMiddleware(h.HandleWebSocket))

	router.HandleFunc("/conversations", utils.AuthMiddleware(h.StartConversation)).Methods("POST")
	router.HandleFunc("/conversations", utils.AuthMiddleware(h.GetConversations)).Methods("GET")
	router.HandleFunc("/conversations/{id}/messages", utils.AuthMiddleware(h.GetMessages)).Methods("GET")
	router.HandleFunc("/conversations/{id}/messages", utils.AuthMiddleware(h.SendMessage)).Methods("POST")
	router.HandleFunc("/conversations/{id}/read", utils.AuthMiddleware(h.MarkRead)).Methods("POST")
	router.HandleFunc("/messages/unread-count", utils.AuthMiddleware(h.GetUnreadCount)).Methods("GET")
}

// StartConversation finds or creates the thread between the caller and
// a peer identified by public ID. One party must be a tutor and the
// other a student.
func (h *ChatHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var startRequest struct {
		PeerPublicID string `json:"peer_public_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&startRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	var peer models.User
	if err := h.db.Where("public_id = ?", startRequest.PeerPublicID).First(&peer).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}
	if peer.Role == identity.Role {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Conversations connect a tutor and a student")
		return
	}

	var tutorID, studentID uint
	if identity.Role == models.RoleTutor {
		tutorID, studentID = identity.UserID, peer.ID
	} else {
		tutorID, studentID = peer.ID, identity.UserID
	}

	var conversation models.Conversation
	result := h.db.Where("tutor_id = ? AND student_id = ?", tutorID, studentID).
		FirstOrCreate(&conversation, models.Conversation{TutorID: tutorID, StudentID: studentID})
	if result.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error starting conversation")
		return
	}

	utils.WriteJSON(w, http.StatusOK, conversation)
}

// GetConversations lists the caller's threads, newest activity first,
// with the counterpart's display fields and an unread count per thread.
func (h *ChatHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var conversations []models.Conversation
	if err := h.db.Where("tutor_id = ? OR student_id = ?", identity.UserID, identity.UserID).
		Preload("Tutor").Preload("Student").
		Find(&conversations).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving conversations")
		return
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for i := range conversations {
		c := &conversations[i]

		counterpart := c.Tutor
		if c.TutorID == identity.UserID {
			counterpart = c.Student
		}

		summary := models.ConversationSummary{
			ID:        c.ID,
			TutorID:   c.TutorID,
			StudentID: c.StudentID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		if counterpart != nil {
			summary.FirstName = counterpart.FirstName
			summary.LastName = counterpart.LastName
			summary.Image = counterpart.ProfilePictureURL
		}

		var lastMessage models.Message
		if err := h.db.Where("conversation_id = ?", c.ID).
			Order("sent_at DESC").First(&lastMessage).Error; err == nil {
			summary.LastMessage = lastMessage.Content
			summary.LastMessageTime = &lastMessage.SentAt
		}

		var unread int64
		h.db.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id != ? AND is_read = ?", c.ID, identity.UserID, false).
			Count(&unread)
		summary.UnreadCount = int(unread)

		summaries = append(summaries, summary)
	}

	// Threads with recent messages first.
	sort.Slice(summaries, func(i, j int) bool {
		return laterActivity(&summaries[i], &summaries[j])
	})

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": summaries,
	})
}

func laterActivity(a, b *models.ConversationSummary) bool {
	at, bt := a.CreatedAt, b.CreatedAt
	if a.LastMessageTime != nil {
		at = *a.LastMessageTime
	}
	if b.LastMessageTime != nil {
		bt = *b.LastMessageTime
	}
	return at.After(bt)
}

// GetMessages returns a page of a conversation's messages, oldest
// first. Only a party of the conversation may read it.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	conversation, ok := h.authorizedConversation(w, r, identity.UserID)
	if !ok {
		return
	}

	limit := 50
	page := 1
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if parsedPage, err := strconv.Atoi(pageParam); err == nil && parsedPage > 0 {
			page = parsedPage
		}
	}

	var messages []models.Message
	if err := h.db.Where("conversation_id = ?", conversation.ID).
		Order("sent_at ASC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&messages).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving messages")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"page":     page,
		"limit":    limit,
	})
}

// SendMessage posts a message into a conversation over plain HTTP.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	conversation, ok := h.authorizedConversation(w, r, identity.UserID)
	if !ok {
		return
	}

	var sendRequest struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&sendRequest); err != nil || sendRequest.Content == "" {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Message content is required")
		return
	}

	message, err := h.deliver(conversation, identity.UserID, sendRequest.Content)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error sending message")
		return
	}

	utils.WriteJSON(w, http.StatusCreated, message)
}

// MarkRead marks every message from the counterpart as read.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	conversation, ok := h.authorizedConversation(w, r, identity.UserID)
	if !ok {
		return
	}

	result := h.db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND is_read = ?", conversation.ID, identity.UserID, false).
		Update("is_read", true)
	if result.Error != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error marking messages read")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"marked_read": result.RowsAffected,
	})
}

// GetUnreadCount returns the caller's total unread messages across all
// conversations.
func (h *ChatHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var count int64
	err = h.db.Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.tutor_id = ? OR conversations.student_id = ?)", identity.UserID, identity.UserID).
		Where("messages.sender_id != ? AND messages.is_read = ?", identity.UserID, false).
		Count(&count).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error counting unread messages")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]int64{
		"unread_count": count,
	})
}

// authorizedConversation loads the conversation from the path and
// checks the caller is one of its parties. Writes the error response
// itself when the check fails.
func (h *ChatHandler) authorizedConversation(w http.ResponseWriter, r *http.Request, userID uint) (*models.Conversation, bool) {
	vars := mux.Vars(r)
	conversationID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid conversation ID")
		return nil, false
	}

	var conversation models.Conversation
	if err := h.db.First(&conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "not_found", "Conversation not found")
		} else {
			utils.WriteError(w, http.StatusInternalServerError, "server_error", "Error retrieving conversation")
		}
		return nil, false
	}

	if conversation.TutorID != userID && conversation.StudentID != userID {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Not a participant of this conversation")
		return nil, false
	}

	return &conversation, true
}

// deliver persists the message, pushes it to the recipient's live
// connections, and falls back to a push notification when the
// recipient is offline.
func (h *ChatHandler) deliver(conversation *models.Conversation, senderID uint, content string) (*models.Message, error) {
	message := models.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         time.Now(),
	}
	if err := h.db.Create(&message).Error; err != nil {
		return nil, err
	}

	recipientID := conversation.TutorID
	if recipientID == senderID {
		recipientID = conversation.StudentID
	}

	if h.hub.IsOnline(recipientID) {
		payload, err := json.Marshal(map[string]interface{}{
			"type":    "message",
			"message": message,
		})
		if err == nil {
			h.hub.BroadcastToUser(recipientID, payload)
		}
	} else if h.notifier != nil {
		var sender models.User
		title := "New message"
		if err := h.db.First(&sender, senderID).Error; err == nil {
			title = "New message from " + sender.FirstName
		}
		body := content
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		go h.notifier.NotifyUser(recipientID, title, body, map[string]string{
			"conversation_id": strconv.FormatUint(uint64(conversation.ID), 10),
		})
	}

	return &message, nil
}
