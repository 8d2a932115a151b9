package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Companion/middleware"
	"Companion/models"
	"Companion/pkg/chat"
)

const IdempotencyHeader = "Idempotency-Key"

// ChatService is what the handlers need from the chat orchestrator.
type ChatService interface {
	CreateSession(ctx context.Context, owner string, mood models.Mood) (models.ChatSession, error)
	GetSession(ctx context.Context, owner, id string) (models.ChatSession, error)
	ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error)
	DeleteSession(ctx context.Context, owner, id string) error
	SubmitTurnOnce(ctx context.Context, owner, sessionID, key, text string) (chat.Turn, error)
}

func CreateSession(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Mood string `json:"mood"`
		}
		// an empty body means the default mood
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request body"})
			return
		}

		mood := models.MoodNeutral
		if strings.TrimSpace(body.Mood) != "" {
			m, err := models.ParseMood(body.Mood)
			if err != nil {
				respondError(c, err)
				return
			}
			mood = m
		}

		session, err := svc.CreateSession(c.Request.Context(), middleware.CurrentUser(c), mood)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toSessionJSON(session))
	}
}

func ListSessions(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListSessions(c.Request.Context(), middleware.CurrentUser(c))
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]summaryJSON, 0, len(list))
		for _, s := range list {
			out = append(out, toSummaryJSON(s))
		}
		c.JSON(http.StatusOK, out)
	}
}

func GetSession(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := svc.GetSession(c.Request.Context(), middleware.CurrentUser(c), c.Param("session_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSessionJSON(session))
	}
}

func DeleteSession(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteSession(c.Request.Context(), middleware.CurrentUser(c), c.Param("session_id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// SubmitMessage runs one chat turn. A repeated Idempotency-Key with the
// same message returns the turn stored the first time.
func SubmitMessage(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}

		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		turn, err := svc.SubmitTurnOnce(c.Request.Context(), middleware.CurrentUser(c), c.Param("session_id"), key, body.Message)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toTurnJSON(turn))
	}
}
