package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/auth"
	"github.com/motormarket/realtime/internal/proto"
	"github.com/motormarket/realtime/internal/store"
	"github.com/motormarket/realtime/internal/store/sqlite"
)

const wsHandshakeTimeout = 10 * time.Second

type gateway struct {
	store    *sqlite.Store
	hub      *hub
	tokenCfg *auth.TokenConfig
	log      zerolog.Logger
}

func (g *gateway) routes(r *gin.Engine) {
	r.POST("/api/login", g.login)
	r.GET("/ws", g.serveWS)

	api := r.Group("/api", g.requireAuth)
	api.GET("/conversations/:id/messages", g.listMessages)
	api.POST("/messages", g.postMessage)
	api.POST("/conversations/:id/delivered", g.markDelivered)
	api.POST("/conversations/:id/read", g.markRead)
	api.GET("/notifications", g.listNotifications)
	api.POST("/notify", g.injectNotification)
}

type loginRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// login issues a signed session token. Any user id is accepted; the
// simulator has no account database.
func (g *gateway) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}

	token, err := auth.GenerateToken(g.tokenCfg, req.UserID, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": req.UserID})
}

func (g *gateway) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	claims, err := auth.ValidateToken(g.tokenCfg, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set("userID", claims.UserID)
	c.Next()
}

func userID(c *gin.Context) string {
	return c.GetString("userID")
}

func (g *gateway) listMessages(c *gin.Context) {
	msgs, err := g.store.FetchConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.log.Error().Err(err).Msg("fetch conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	out := make([]gin.H, len(msgs))
	for i, m := range msgs {
		out[i] = gin.H{
			"id":              m.ID,
			"conversation_id": m.ConversationID,
			"sender_id":       m.SenderID,
			"recipient_id":    m.RecipientID,
			"content":         m.Content,
			"status":          m.Status,
			"created_at":      m.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

type postMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	RecipientID    string `json:"recipient_id" binding:"required"`
	Content        string `json:"content" binding:"required"`
}

// postMessage persists the message and fans a new_message event out on
// the conversation topic. The sender gets the echo too; clients treat
// it as confirmation of their optimistic entry.
func (g *gateway) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender := userID(c)
	res, err := g.store.SendMessage(c.Request.Context(), store.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       sender,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("persist message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	data, _ := json.Marshal(proto.NewMessageData{
		ID:             res.ServerID,
		ConversationID: req.ConversationID,
		SenderID:       sender,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		CreatedAt:      res.CreatedAt,
	})
	g.hub.broadcast(proto.ConversationTopic(req.ConversationID), proto.EventNewMessage, data, nil)

	c.JSON(http.StatusOK, gin.H{"server_id": res.ServerID, "created_at": res.CreatedAt})
}

type receiptRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

func (g *gateway) markDelivered(c *gin.Context) {
	g.applyReceipt(c, g.store.MarkDelivered)
}

func (g *gateway) markRead(c *gin.Context) {
	g.applyReceipt(c, g.store.MarkRead)
}

func (g *gateway) applyReceipt(c *gin.Context, apply func(context.Context, string, []string) error) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := apply(c.Request.Context(), c.Param("id"), req.MessageIDs); err != nil {
		g.log.Error().Err(err).Msg("apply receipt")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *gateway) listNotifications(c *gin.Context) {
	filter := store.NotificationFilter{
		UserID:     userID(c),
		Type:       c.Query("type"),
		UnreadOnly: c.Query("unread_only") == "true",
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	items, err := g.store.FetchNotifications(c.Request.Context(), filter)
	if err != nil {
		g.log.Error().Err(err).Msg("fetch notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	out := make([]gin.H, len(items))
	for i, n := range items {
		out[i] = gin.H{
			"id":         n.ID,
			"type":       n.Type,
			"title":      n.Title,
			"content":    n.Content,
			"related_id": n.RelatedID,
			"is_read":    n.IsRead,
			"created_at": n.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

type injectNotificationRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
	Type         string `json:"type" binding:"required"`
	Title        string `json:"title" binding:"required"`
	Content      string `json:"content"`
	RelatedID    string `json:"related_id"`
}

// injectNotification is a simulator-only endpoint for driving the
// notification pipeline: it persists the notification and pushes it on
// the target's user topic.
func (g *gateway) injectNotification(c *gin.Context) {
	var req injectNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := store.Notification{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		RelatedID: req.RelatedID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.InsertNotification(c.Request.Context(), req.TargetUserID, n); err != nil {
		g.log.Error().Err(err).Msg("persist notification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	data, _ := json.Marshal(proto.NotificationData{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Content:   n.Content,
		RelatedID: n.RelatedID,
		CreatedAt: n.CreatedAt,
	})
	g.hub.broadcast(proto.UserTopic(req.TargetUserID), proto.EventNotification, data, nil)

	c.JSON(http.StatusOK, gin.H{"id": n.ID})
}

// serveWS upgrades the connection and runs the push-channel protocol:
// hello with a valid token, ready in response, then subscribe,
// unsubscribe and publish frames until the client goes away.
func (g *gateway) serveWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dev tool, no origin policy
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	ctx := c.Request.Context()

	hctx, cancel := context.WithTimeout(ctx, wsHandshakeTimeout)
	cl, err := g.handshake(hctx, conn)
	cancel()
	if err != nil {
		g.log.Warn().Err(err).Msg("handshake rejected")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	g.log.Info().Str("user", cl.userID).Msg("client connected")
	defer func() {
		g.hub.drop(cl)
		conn.Close(websocket.StatusNormalClosure, "bye")
		g.log.Info().Str("user", cl.userID).Msg("client disconnected")
	}()

	go func() {
		for f := range cl.send {
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return
			}
		}
	}()

	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		g.handleFrame(cl, f)
	}
}

func (g *gateway) handshake(ctx context.Context, conn *websocket.Conn) (*client, error) {
	var f proto.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		return nil, err
	}
	if f.Type != proto.FrameHello {
		return nil, errProtocol("expected hello frame, got " + f.Type)
	}

	var hello proto.HelloData
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		return nil, err
	}
	claims, err := auth.ValidateToken(g.tokenCfg, hello.Token)
	if err != nil {
		return nil, err
	}

	ready, _ := json.Marshal(proto.ReadyData{UserID: claims.UserID})
	if err := wsjson.Write(ctx, conn, proto.Frame{Type: proto.FrameReady, Data: ready}); err != nil {
		return nil, err
	}
	return newClient(claims.UserID), nil
}

func (g *gateway) handleFrame(cl *client, f proto.Frame) {
	switch f.Type {
	case proto.FrameSubscribe:
		g.hub.subscribe(cl, f.Topic)
	case proto.FrameUnsubscribe:
		g.hub.unsubscribe(cl, f.Topic)
	case proto.FramePublish:
		// Relay to every other subscriber. Typing, presence and
		// receipt frames travel this path.
		g.hub.broadcast(f.Topic, f.Event, f.Data, cl)
	default:
		cl.deliver(proto.Frame{
			Type:  proto.FrameError,
			Error: &proto.Error{Code: "bad_frame", Msg: "unsupported frame type " + f.Type},
		})
	}
}

type errProtocol string

func (e errProtocol) Error() string { return string(e) }
