package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/utils/id"
)

// ABNHandler serves token minting, PDP and channel routes.
type ABNHandler struct {
	gateway  Negotiation
	tokens   TaskTokenMinter
	policy   PolicyDecider
	tokenTTL time.Duration
	logger   logging.Logger
}

type taskRequest struct {
	TaskID      string   `json:"task_id"`
	Cores       []string `json:"cores"`
	AllowDirect bool     `json:"allow_direct"`
}

type authorizeRequest struct {
	OriginCore     string `json:"origin_core" binding:"required"`
	TargetCore     string `json:"target_core" binding:"required"`
	ProposedBudget int    `json:"proposed_budget"`
}

type authorizeResponse struct {
	Allow           bool          `json:"allow"`
	Budget          int           `json:"budget"`
	TTL             string        `json:"ttl"`
	AllowedMsgTypes []abn.MsgType `json:"allowed_msg_types"`
	Reason          string        `json:"reason,omitempty"`
}

type openResponse struct {
	ChannelID       string        `json:"channel_id"`
	ABNToken        string        `json:"abn_token"`
	Budget          int           `json:"budget"`
	ExpiresAt       time.Time     `json:"expires_at"`
	AllowedMsgTypes []abn.MsgType `json:"allowed_msg_types"`
}

type sendResponse struct {
	Status   string         `json:"status"`
	Reply    map[string]any `json:"reply"`
	Envelope abn.Envelope   `json:"envelope"`
	ReplySeq int64          `json:"reply_seq,omitempty"`
}

// MintTask handles POST /task.
func (h *ABNHandler) MintTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if h.tokens == nil {
		writeError(c, h.logger, http.StatusServiceUnavailable, "token authority not configured", nil)
		return
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = id.NewTaskID()
	}
	tok, err := h.tokens.MintTaskToken(taskID, req.Cores, req.AllowDirect, h.tokenTTL)
	if err != nil {
		writeError(c, h.logger, http.StatusInternalServerError, "mint task token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "task_token": tok})
}

// Authorize handles POST /pdp/authorize_abn.
func (h *ABNHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if h.policy == nil {
		writeError(c, h.logger, http.StatusServiceUnavailable, "policy not configured", nil)
		return
	}
	decision := h.policy.Authorize(req.OriginCore, req.TargetCore, req.ProposedBudget)
	resp := authorizeResponse{
		Allow:           decision.Allow,
		Budget:          decision.Budget,
		AllowedMsgTypes: decision.AllowedMsgTypes,
		Reason:          decision.Reason,
	}
	if resp.AllowedMsgTypes == nil {
		resp.AllowedMsgTypes = []abn.MsgType{}
	}
	if decision.Allow {
		resp.TTL = decision.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Open handles POST /abn/open.
func (h *ABNHandler) Open(c *gin.Context) {
	taskToken := c.GetHeader("Authorization")
	if strings.TrimSpace(taskToken) == "" {
		writeError(c, h.logger, http.StatusUnauthorized, "missing task token", nil)
		return
	}
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	res, err := h.gateway.OpenChannel(c.Request.Context(), taskToken, req.OriginCore, req.TargetCore, req.ProposedBudget)
	if err != nil {
		writeDomainError(c, h.logger, "open channel", err)
		return
	}
	c.JSON(http.StatusOK, openResponse{
		ChannelID:       res.ChannelID,
		ABNToken:        res.ChannelToken,
		Budget:          res.Budget,
		ExpiresAt:       res.ExpiresAt,
		AllowedMsgTypes: res.AllowedMsgTypes,
	})
}

// Send handles POST /abn/channel/:channelId/messages.
func (h *ABNHandler) Send(c *gin.Context) {
	channelToken := c.GetHeader("Authorization")
	if strings.TrimSpace(channelToken) == "" {
		writeError(c, h.logger, http.StatusUnauthorized, "missing channel token", nil)
		return
	}
	var env abn.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid envelope", err)
		return
	}
	res, err := h.gateway.SendMessage(c.Request.Context(), c.Param("channelId"), env, channelToken)
	if err != nil {
		writeDomainError(c, h.logger, "send message", err)
		return
	}
	resp := sendResponse{Status: res.Status, Envelope: res.Envelope}
	if res.Reply != nil {
		resp.Reply = res.Reply.Payload
		resp.ReplySeq = res.Reply.Seq
	}
	c.JSON(http.StatusOK, resp)
}

// Transcript handles GET /abn/channel/:channelId/transcript.
func (h *ABNHandler) Transcript(c *gin.Context) {
	channelID := c.Param("channelId")
	entries, err := h.gateway.Transcript(c.Request.Context(), channelID)
	if err != nil {
		writeDomainError(c, h.logger, "read transcript", err)
		return
	}
	if entries == nil {
		entries = []abn.TranscriptEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "entries": entries})
}

// Revoke handles DELETE /channels/:channelId.
func (h *ABNHandler) Revoke(c *gin.Context) {
	channelID := c.Param("channelId")
	if err := h.gateway.Revoke(c.Request.Context(), channelID); err != nil {
		writeDomainError(c, h.logger, "revoke channel", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "channel_id": channelID})
}
