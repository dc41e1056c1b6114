package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	startRequest struct {
		Kind     api.WorkflowKind `json:"kind" binding:"required"`
		ClientID string           `json:"client_id" binding:"required"`
		Params   api.Params       `json:"params"`
	}

	workflowResponse struct {
		ID             api.WorkflowID     `json:"id"`
		Kind           api.WorkflowKind   `json:"kind"`
		ClientID       string             `json:"client_id"`
		Status         api.WorkflowStatus `json:"status"`
		FailedStepKind api.StepKind       `json:"failed_step_kind,omitempty"`
	}

	stepResponse struct {
		ID     api.StepID      `json:"id"`
		Kind   api.StepKind    `json:"kind"`
		Status *api.StepStatus `json:"status"`
		TxHash string          `json:"tx_hash,omitempty"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func (s *Server) startWorkflow(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := req.Kind.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	w, err := s.router.Start(
		c.Request.Context(), req.Kind, req.ClientID, req.Params,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, workflowResponse{
		ID:       api.WorkflowID(w.ID),
		Kind:     w.Kind,
		ClientID: w.ClientID,
		Status:   w.Status,
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	id, ok := parseID(c, "workflowID")
	if !ok {
		return
	}
	workflowID := api.WorkflowID(id)

	if s.views != nil {
		if cached, ok := s.views.GetWorkflow(
			c.Request.Context(), workflowID,
		); ok {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	w, err := s.store.GetWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	res := workflowResponse{
		ID:             api.WorkflowID(w.ID),
		Kind:           w.Kind,
		ClientID:       w.ClientID,
		Status:         w.Status,
		FailedStepKind: w.FailedStepKind,
	}
	if s.views != nil {
		s.views.PutWorkflow(c.Request.Context(), workflowID, res)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listSteps(c *gin.Context) {
	id, ok := parseID(c, "workflowID")
	if !ok {
		return
	}

	steps, err := s.store.ListSteps(
		c.Request.Context(), api.WorkflowID(id),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			errorResponse{Error: err.Error()})
		return
	}

	res := make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		res = append(res, stepResponse{
			ID:     step.StepID(),
			Kind:   step.Kind,
			Status: step.Status,
			TxHash: step.TxHash,
		})
	}
	c.JSON(http.StatusOK, res)
}

func parseID(c *gin.Context, param string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest,
			errorResponse{Error: "invalid " + param})
		return 0, false
	}
	return id, true
}
