package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"staffchat/internal/app"
	"staffchat/internal/transport/http/middleware"
	"staffchat/internal/transport/http/response"
)

// streamChunkSize is how much reply text one SSE data event carries.
const streamChunkSize = 400

type ChatHandler struct {
	chatService *app.ChatService
	stopFlags   *app.StopFlags
}

func NewChatHandler(chatService *app.ChatService, stopFlags *app.StopFlags) *ChatHandler {
	return &ChatHandler{chatService: chatService, stopFlags: stopFlags}
}

type CreateChatRequest struct {
	Title      string `json:"title" binding:"max=256"`
	Deployment string `json:"deployment"`
}

type UpdateChatRequest struct {
	Title           *string  `json:"title"`
	Deployment      *string  `json:"deployment"`
	Temperature     *float64 `json:"temperature"`
	ReasoningEffort *string  `json:"reasoning_effort"`
	Verbosity       *string  `json:"verbosity"`
}

type SendTurnRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chat, err := h.chatService.CreateChat(app.CreateChatInput{
		User:       user,
		Title:      req.Title,
		Deployment: req.Deployment,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrNoDeployment):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create chat failed")
		}
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chats, err := h.chatService.ListChats(user)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list chats failed")
		return
	}
	response.OK(c, chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chat, err := h.chatService.GetChat(user, c.Param("id"))
	if err != nil {
		respondChatError(c, err, "get chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) UpdateChat(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chat, err := h.chatService.UpdateChat(user, c.Param("id"), app.UpdateChatInput{
		Title:           req.Title,
		Deployment:      req.Deployment,
		Temperature:     req.Temperature,
		ReasoningEffort: req.ReasoningEffort,
		Verbosity:       req.Verbosity,
	})
	if err != nil {
		respondChatError(c, err, "update chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chatID := c.Param("id")
	if err := h.chatService.DeleteChat(c.Request.Context(), user, chatID); err != nil {
		respondChatError(c, err, "delete chat failed")
		return
	}
	response.OK(c, gin.H{"deleted_chat_id": chatID})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	history, err := h.chatService.History(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondChatError(c, err, "get history failed")
		return
	}
	response.OK(c, history)
}

func (h *ChatHandler) SendTurn(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendTurn(c.Request.Context(), app.SendTurnInput{
		User:           user,
		ChatID:         c.Param("id"),
		Message:        req.Message,
		AcceptLanguage: c.GetHeader("Accept-Language"),
	})
	if err != nil {
		respondChatError(c, err, "send message failed")
		return
	}
	response.OK(c, result)
}

// StreamTurn runs the turn and replays the reply as SSE data events so the
// UI renders progressively. The stop flag is checked between chunks; a set
// flag ends the stream early but the full exchange is already persisted.
func (h *ChatHandler) StreamTurn(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chatID := c.Param("id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	h.stopFlags.Clear(chatID)
	defer h.stopFlags.Clear(chatID)

	result, err := h.chatService.SendTurn(c.Request.Context(), app.SendTurnInput{
		User:           user,
		ChatID:         chatID,
		Message:        req.Message,
		AcceptLanguage: c.GetHeader("Accept-Language"),
	})
	if err != nil {
		if _, writeErr := fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", sanitizeSSE(err.Error())); writeErr == nil {
			flusher.Flush()
		}
		return
	}
	if result.Error {
		if _, writeErr := fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", sanitizeSSE(result.Message)); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	text := result.Message
	for len(text) > 0 {
		if h.stopFlags.Stopped(chatID) {
			break
		}
		chunk := text
		if len(chunk) > streamChunkSize {
			chunk = chunk[:streamChunkSize]
		}
		text = text[len(chunk):]
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return
		}
		flusher.Flush()
	}

	payload, _ := json.Marshal(result)
	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(string(payload)) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

// StopStream flags the chat's in-flight stream to stop after the current
// chunk.
func (h *ChatHandler) StopStream(c *gin.Context) {
	if _, ok := getUsernameFromContext(c); !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	if err := h.stopFlags.Set(c.Param("id")); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "set stop flag failed")
		return
	}
	response.OK(c, gin.H{"stopped": true})
}

func respondChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty), errors.Is(err, app.ErrNoDeployment):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func getUsernameFromContext(c *gin.Context) (string, bool) {
	usernameAny, exists := c.Get(middleware.ContextUsernameKey)
	if !exists {
		return "", false
	}
	username, ok := usernameAny.(string)
	return username, ok && username != ""
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
