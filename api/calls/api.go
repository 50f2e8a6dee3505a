// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package calls_api exposes call admission over HTTP: telephony middleware
// registers a call, receives the RTP port pair to stream media to, and ends
// the call when the line drops.
package calls_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	internal_core "github.com/rapidaai/aicc-pipeline/internal/core"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// ErrCallNotFound is returned by the service for unknown call identifiers.
var ErrCallNotFound = errors.New("call not found")

const (
	StatusRegistered        = "registered"
	StatusAlreadyRegistered = "already_registered"
	StatusEnded             = "ended"
)

// CallInfo is the admission snapshot of one call.
type CallInfo struct {
	CallID         string `json:"callId"`
	CustomerNumber string `json:"customerNumber,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	CustomerPort   uint16 `json:"customerPort"`
	AgentPort      uint16 `json:"agentPort"`
	StartTime      string `json:"startTime"`
	Turns          int    `json:"turns"`
}

// CallService is implemented by the pipeline controller. Register reports
// created=false when the callID was already admitted; the existing snapshot
// is returned untouched.
type CallService interface {
	Register(ctx context.Context, callID, customerNumber, agentID string) (CallInfo, bool, error)
	End(ctx context.Context, callID string) error
	Get(callID string) (CallInfo, bool)
	List() []CallInfo
}

type registerRequest struct {
	CallID         string `json:"callId" binding:"required"`
	CustomerNumber string `json:"customerNumber"`
	AgentID        string `json:"agentId"`
}

// CallApi holds the handler set.
type CallApi struct {
	logger  commons.Logger
	service CallService
}

func NewCallApi(service CallService, logger commons.Logger) *CallApi {
	return &CallApi{logger: logger, service: service}
}

// RegisterCall admits one call and returns its media ports. Duplicate
// registration is idempotent; pool exhaustion maps to 503.
func (a *CallApi) RegisterCall(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callId is required"})
		return
	}

	info, created, err := a.service.Register(c.Request.Context(), req.CallID, req.CustomerNumber, req.AgentID)
	if err != nil {
		if errors.Is(err, internal_core.ErrPoolExhausted) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "POOL_EXHAUSTED"})
			return
		}
		a.logger.Errorw("call registration failed", "call_id", req.CallID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	status := StatusRegistered
	if !created {
		status = StatusAlreadyRegistered
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"callId":       info.CallID,
		"customerPort": info.CustomerPort,
		"agentPort":    info.AgentPort,
	})
}

// EndCall tears the call down and releases its ports.
func (a *CallApi) EndCall(c *gin.Context) {
	callID := c.Param("callId")
	if err := a.service.End(c.Request.Context(), callID); err != nil {
		if errors.Is(err, ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		a.logger.Errorw("call teardown failed", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "teardown failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusEnded, "callId": callID})
}

// GetCall returns one call snapshot.
func (a *CallApi) GetCall(c *gin.Context) {
	info, ok := a.service.Get(c.Param("callId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListCalls returns every live call.
func (a *CallApi) ListCalls(c *gin.Context) {
	calls := a.service.List()
	if calls == nil {
		calls = []CallInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}
