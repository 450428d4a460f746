// Package api exposes the outreach service to the presentation client over
// HTTP and pushes account events over a websocket.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/conversation"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/outreach"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

type Server struct {
	svc    *outreach.Service
	tokens *Tokens
	log    *logging.Logger
}

func New(svc *outreach.Service, tokens *Tokens, log *logging.Logger) *Server {
	return &Server{svc: svc, tokens: tokens, log: log.With("module", "api")}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.POST("/api/v1/accounts", s.createAccount)
	r.GET("/ws", s.serveWS)

	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(s.tokens))

	v1.GET("/account", s.getAccount)
	v1.POST("/account/deactivate", s.deactivateAccount)
	v1.PUT("/account/temperature", s.setTemperature)
	v1.PUT("/account/settings", s.setSettings)
	v1.POST("/account/credits", s.purchaseCredits)
	v1.GET("/account/transactions", s.listTransactions)
	v1.GET("/dashboard", s.dashboard)

	v1.POST("/campaigns", s.createCampaign)
	v1.GET("/campaigns", s.listCampaigns)
	v1.GET("/campaigns/:id", s.owned(state.KindCampaign, s.getCampaign))
	v1.POST("/campaigns/:id/pause", s.owned(state.KindCampaign, s.pauseCampaign))
	v1.POST("/campaigns/:id/resume", s.owned(state.KindCampaign, s.resumeCampaign))
	v1.POST("/campaigns/:id/complete", s.owned(state.KindCampaign, s.completeCampaign))
	v1.POST("/campaigns/:id/contacts", s.owned(state.KindCampaign, s.addContact))
	v1.GET("/campaigns/:id/contacts", s.owned(state.KindCampaign, s.listContacts))

	v1.POST("/contacts/:id/connect", s.owned(state.KindContact, s.sendNow))

	v1.GET("/conversations", s.listConversations)
	v1.GET("/conversations/:id", s.owned(state.KindConversation, s.getConversation))
	v1.POST("/conversations/:id/messages", s.owned(state.KindConversation, s.sendManual))
	v1.POST("/conversations/:id/inbound", s.owned(state.KindConversation, s.inbound))
	v1.POST("/conversations/:id/turns", s.owned(state.KindConversation, s.requestTurn))

	v1.GET("/approvals", s.listApprovals)
	v1.POST("/approvals/:id/approve", s.owned(state.KindApproval, s.approve))
	v1.POST("/approvals/:id/reject", s.owned(state.KindApproval, s.reject))

	v1.POST("/messages/:id/feedback", s.owned(state.KindMessage, s.feedback))

	v1.GET("/leads", s.listLeads)
	v1.POST("/leads/:id/archive", s.owned(state.KindLead, s.archiveLead))
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

// owned rejects ids that belong to another account as not found.
func (s *Server) owned(kind state.Kind, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := s.svc.Owner(kind, c.Param("id"))
		if err != nil || owner != mustAccountID(c) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": string(kind) + " not found"})
			return
		}
		h(c)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"message": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, models.ErrOutsideWorkingHours), errors.Is(err, models.ErrDailyLimitReached),
		errors.Is(err, models.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrIllegalStateTransition), errors.Is(err, models.ErrDuplicateContact),
		errors.Is(err, models.ErrAccountExists), errors.Is(err, models.ErrApprovalResolved),
		errors.Is(err, models.ErrConversationClosed), errors.Is(err, models.ErrCampaignNotActive):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidTemperature), errors.Is(err, models.ErrInvalidSettings),
		errors.Is(err, models.ErrContentTooLong), errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrOutsideTargeting), errors.Is(err, models.ErrInvalidMatchScore),
		errors.Is(err, models.ErrInvalidRating), errors.Is(err, models.ErrUnknownPackage),
		errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInvalidLeadQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return false
	}
	return true
}

type createAccountReq struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) createAccount(c *gin.Context) {
	var req createAccountReq
	if !s.bind(c, &req) {
		return
	}
	acct, err := s.svc.CreateAccount(c.Request.Context(), outreach.NewAccount{Name: req.Name})
	if err != nil {
		s.fail(c, err)
		return
	}
	token, err := s.tokens.Sign(acct.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": acct, "token": token})
}

func (s *Server) getAccount(c *gin.Context) {
	v, err := s.svc.Account(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) deactivateAccount(c *gin.Context) {
	if err := s.svc.DeactivateAccount(c.Request.Context(), mustAccountID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type temperatureReq struct {
	Value *float64 `json:"value" binding:"required"`
}

func (s *Server) setTemperature(c *gin.Context) {
	var req temperatureReq
	if !s.bind(c, &req) {
		return
	}
	if err := s.svc.SetTemperature(c.Request.Context(), mustAccountID(c), *req.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setSettings(c *gin.Context) {
	var req models.AutonomySettings
	if !s.bind(c, &req) {
		return
	}
	if err := s.svc.SetAutonomySettings(c.Request.Context(), mustAccountID(c), req); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type purchaseReq struct {
	PackageID string `json:"package_id" binding:"required"`
}

func (s *Server) purchaseCredits(c *gin.Context) {
	var req purchaseReq
	if !s.bind(c, &req) {
		return
	}
	tx, err := s.svc.PurchaseCredits(c.Request.Context(), mustAccountID(c), req.PackageID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	txs, err := s.svc.Transactions(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (s *Server) dashboard(c *gin.Context) {
	d, err := s.svc.Dashboard(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) createCampaign(c *gin.Context) {
	var req outreach.NewCampaign
	if !s.bind(c, &req) {
		return
	}
	camp, err := s.svc.CreateCampaign(c.Request.Context(), mustAccountID(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, camp)
}

func (s *Server) listCampaigns(c *gin.Context) {
	out, err := s.svc.Campaigns(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) getCampaign(c *gin.Context) {
	camp, err := s.svc.Campaign(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (s *Server) pauseCampaign(c *gin.Context) {
	s.noContent(c, s.svc.PauseCampaign(c.Request.Context(), c.Param("id")))
}

func (s *Server) resumeCampaign(c *gin.Context) {
	s.noContent(c, s.svc.ResumeCampaign(c.Request.Context(), c.Param("id")))
}

func (s *Server) completeCampaign(c *gin.Context) {
	s.noContent(c, s.svc.CompleteCampaign(c.Request.Context(), c.Param("id")))
}

func (s *Server) addContact(c *gin.Context) {
	var req outreach.NewContact
	if !s.bind(c, &req) {
		return
	}
	ct, err := s.svc.AddContact(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ct)
}

func (s *Server) listContacts(c *gin.Context) {
	out, err := s.svc.Contacts(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) sendNow(c *gin.Context) {
	s.noContent(c, s.svc.SendNow(c.Request.Context(), c.Param("id")))
}

func (s *Server) listConversations(c *gin.Context) {
	out, err := s.svc.Conversations(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.svc.Conversation(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type contentReq struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) sendManual(c *gin.Context) {
	var req contentReq
	if !s.bind(c, &req) {
		return
	}
	msg, err := s.svc.SendManualMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) inbound(c *gin.Context) {
	var req conversation.Inbound
	if !s.bind(c, &req) {
		return
	}
	req.ConversationID = c.Param("id")
	req.ContactID = ""
	msg, err := s.svc.HandleInbound(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) requestTurn(c *gin.Context) {
	var req conversation.Draft
	if !s.bind(c, &req) {
		return
	}
	res, err := s.svc.RequestTurn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listApprovals(c *gin.Context) {
	out, err := s.svc.Approvals(mustAccountID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) approve(c *gin.Context) {
	msg, err := s.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) reject(c *gin.Context) {
	s.noContent(c, s.svc.Reject(c.Request.Context(), c.Param("id")))
}

type feedbackReq struct {
	Rating models.Rating `json:"rating" binding:"required"`
}

func (s *Server) feedback(c *gin.Context) {
	var req feedbackReq
	if !s.bind(c, &req) {
		return
	}
	s.noContent(c, s.svc.ProvideFeedback(c.Request.Context(), c.Param("id"), req.Rating))
}

func (s *Server) listLeads(c *gin.Context) {
	out, err := s.svc.Leads(mustAccountID(c), outreach.LeadQuery{
		Archived: c.Query("archived") == "true",
		Priority: models.Priority(c.Query("priority")),
		Sort:     outreach.LeadSort(c.Query("sort")),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) archiveLead(c *gin.Context) {
	l, err := s.svc.ArchiveLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) noContent(c *gin.Context, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
