package chats

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/cmd/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inboundMessage is the frame clients send over the websocket.
type inboundMessage struct {
	ConversationID uint   `json:"conversation_id"`
	Content        string `json:"content"`
}

// HandleWebSocket upgrades the connection and registers it with the
// hub. The token is accepted as a query parameter because browser
// websocket clients cannot set an Authorization header.
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	log.Printf("WebSocket connection established for user %d", identity.UserID)

	client := &models.ClientConnection{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: identity.UserID,
	}
	h.hub.Register <- client

	go client.WritePump()
	go h.readPump(client)
}

func (h *ChatHandler) readPump(client *models.ClientConnection) {
	defer func() {
		h.hub.Unregister <- client
		client.Conn.Close()
	}()

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}

		var inbound inboundMessage
		if err := json.Unmarshal(raw, &inbound); err != nil {
			log.Printf("error unmarshaling message: %v", err)
			continue
		}
		if inbound.Content == "" || inbound.ConversationID == 0 {
			continue
		}

		var conversation models.Conversation
		if err := h.db.First(&conversation, inbound.ConversationID).Error; err != nil {
			log.Printf("message for unknown conversation %d", inbound.ConversationID)
			continue
		}
		if conversation.TutorID != client.UserID && conversation.StudentID != client.UserID {
			log.Printf("user %d is not a party of conversation %d", client.UserID, conversation.ID)
			continue
		}

		message, err := h.deliver(&conversation, client.UserID, inbound.Content)
		if err != nil {
			log.Printf("error saving message: %v", err)
			continue
		}

		// Echo the stored message back so the sender's other
		// sessions stay in sync.
		if payload, err := json.Marshal(map[string]interface{}{
			"type":    "message",
			"message": message,
		}); err == nil {
			h.hub.BroadcastToUser(client.UserID, payload)
		}
	}
}
