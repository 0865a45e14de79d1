package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fundpool-engine/internal/ledger"
	"fundpool-engine/internal/memory"
	"fundpool-engine/internal/risk"
)

// ============================================================================
// STAKE HANDLERS
// ============================================================================

type createStakeRequest struct {
	StrategyID    string  `json:"strategy_id" binding:"required"`
	ParticipantID string  `json:"participant_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
}

// handleCreateStake deposits capital into a strategy's pool
func (s *Server) handleCreateStake(c *gin.Context) {
	var req createStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	stake, err := s.service.CreateStake(c.Request.Context(), req.StrategyID, req.ParticipantID, req.Amount)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": stake})
}

// handleGetStake returns a stake with its live valuation
func (s *Server) handleGetStake(c *gin.Context) {
	view, err := s.service.GetStakeStatus(c.Request.Context(), c.Param("id"), c.Query("participant_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, view)
}

// handlePauseStake pauses a stake's lock clock
func (s *Server) handlePauseStake(c *gin.Context) {
	stake, err := s.service.PauseStake(c.Request.Context(), c.Param("id"), c.Query("participant_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, stake)
}

// handleResumeStake resumes a paused stake
func (s *Server) handleResumeStake(c *gin.Context) {
	stake, err := s.service.ResumeStake(c.Request.Context(), c.Param("id"), c.Query("participant_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, stake)
}

// handleRedemptionQuote prices a redemption without committing
func (s *Server) handleRedemptionQuote(c *gin.Context) {
	quote, err := s.service.GetRedemptionQuote(c.Request.Context(), c.Param("id"), c.Query("participant_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, quote)
}

// handleRequestRedemption fixes the payout quote and earmarks it
func (s *Server) handleRequestRedemption(c *gin.Context) {
	quote, err := s.service.RequestRedemption(c.Request.Context(), c.Param("id"), c.Query("participant_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, quote)
}

// handleCompleteRedemption burns shares and finalizes the payout
func (s *Server) handleCompleteRedemption(c *gin.Context) {
	stake, err := s.service.CompleteRedemption(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, stake)
}

// handleStakeAllocations returns a stake's P&L allocation history
func (s *Server) handleStakeAllocations(c *gin.Context) {
	allocations, err := s.repo.GetAllocationsByStake(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, allocations)
}

// ============================================================================
// POOL HANDLERS
// ============================================================================

// handleListPools returns every pool on record
func (s *Server) handleListPools(c *gin.Context) {
	pools, err := s.repo.ListPools(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, pools)
}

// handlePoolStatus returns a pool's ledger, gate, and open positions
func (s *Server) handlePoolStatus(c *gin.Context) {
	status, err := s.service.GetPoolStatus(c.Request.Context(), c.Param("strategy"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, status)
}

// handlePoolDecisions returns a pool's decision history
func (s *Server) handlePoolDecisions(c *gin.Context) {
	status, err := s.service.GetPoolStatus(c.Request.Context(), c.Param("strategy"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	decisions, err := s.repo.GetDecisionsByPool(c.Request.Context(), status.Pool.ID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, decisions)
}

// handlePoolMemories returns the pool's most relevant trade memories
func (s *Server) handlePoolMemories(c *gin.Context) {
	status, err := s.service.GetPoolStatus(c.Request.Context(), c.Param("strategy"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	filter := memory.MemoryFilter{
		Symbol: c.Query("symbol"),
		Type:   c.Query("type"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	memories, err := s.decisions.GetRelevantMemories(c.Request.Context(), status.Pool.ID, filter)
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, memories)
}

// handlePoolSettlements returns a pool's recent daily settlements
func (s *Server) handlePoolSettlements(c *gin.Context) {
	status, err := s.service.GetPoolStatus(c.Request.Context(), c.Param("strategy"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	limit := 30
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	settlements, err := s.repo.GetRecentSettlements(c.Request.Context(), status.Pool.ID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, settlements)
}

type runCycleRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

// handleRunCycle triggers one trading cycle for a strategy
func (s *Server) handleRunCycle(c *gin.Context) {
	var req runCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := s.service.RunTradingCycle(c.Request.Context(), c.Param("strategy"), req.Symbols)
	if err != nil {
		if report != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "data": report, "message": err.Error()})
			return
		}
		s.renderError(c, err)
		return
	}
	successResponse(c, report)
}

// handleSettleDaily triggers the daily settlement for a strategy
func (s *Server) handleSettleDaily(c *gin.Context) {
	settlement, err := s.service.SettleDaily(c.Request.Context(), c.Param("strategy"), time.Now().UTC())
	if err != nil {
		s.renderError(c, err)
		return
	}
	successResponse(c, settlement)
}

// ============================================================================
// RISK HANDLERS
// ============================================================================

// handleRiskParams returns the governor's derived limits
func (s *Server) handleRiskParams(c *gin.Context) {
	successResponse(c, s.governor.Params())
}

// handleRiskPause closes the trading gate manually
func (s *Server) handleRiskPause(c *gin.Context) {
	s.governor.Pause()
	successResponse(c, gin.H{"paused": true})
}

// handleRiskResume reopens a manually paused gate
func (s *Server) handleRiskResume(c *gin.Context) {
	s.governor.Resume()
	successResponse(c, gin.H{"paused": false})
}

// handleSchedulerStatus reports whether the cycle scheduler is running
func (s *Server) handleSchedulerStatus(c *gin.Context) {
	running := false
	if s.scheduler != nil {
		running = s.scheduler.IsRunning()
	}
	successResponse(c, gin.H{"running": running})
}

// renderError maps engine errors to HTTP statuses with structured bodies
func (s *Server) renderError(c *gin.Context, err error) {
	var validationErr *ledger.ValidationError
	var authErr *ledger.AuthorizationError
	var capitalErr *ledger.InsufficientCapitalError
	var transitionErr *ledger.InvalidTransitionError
	var rejectedErr *risk.RejectedError

	switch {
	case errors.Is(err, ledger.ErrPoolNotFound),
		errors.Is(err, ledger.ErrStakeNotFound),
		errors.Is(err, ledger.ErrPositionNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.As(err, &authErr):
		errorResponse(c, http.StatusForbidden, err.Error())
	case errors.As(err, &validationErr):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, ledger.ErrAlreadyTerminal):
		errorResponse(c, http.StatusConflict, err.Error())
	case errors.As(err, &capitalErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     true,
			"message":   err.Error(),
			"requested": capitalErr.Requested,
			"available": capitalErr.Available,
		})
	case errors.As(err, &rejectedErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      true,
			"message":    "trade rejected",
			"reasons":    rejectedErr.Reasons,
			"risk_score": rejectedErr.RiskScore,
		})
	default:
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
