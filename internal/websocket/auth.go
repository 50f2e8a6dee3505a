// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// refreshMargin: a cached token this close to expiry is replaced before use
// so a connection never presents a token that dies mid-handshake.
const refreshMargin = 5 * time.Minute

// TokenProvider supplies bearer tokens for outbound connections.
type TokenProvider interface {
	Token() (string, error)
}

// JWTTokenProvider mints HS256 tokens carrying the consumer contract
// claims: client_id and the send_transcripts permission.
type JWTTokenProvider struct {
	logger   commons.Logger
	secret   []byte
	clientID string
	ttl      time.Duration

	mu     sync.Mutex
	cached string
	expiry time.Time
}

func NewJWTTokenProvider(secret, clientID string, ttl time.Duration, logger commons.Logger) *JWTTokenProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTTokenProvider{
		logger:   logger,
		secret:   []byte(secret),
		clientID: clientID,
		ttl:      ttl,
	}
}

// Token returns the cached token, minting a fresh one when the cache is
// empty or within the refresh margin of expiry.
func (p *JWTTokenProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Until(p.expiry) > refreshMargin {
		return p.cached, nil
	}

	now := time.Now()
	expiry := now.Add(p.ttl)
	claims := jwt.MapClaims{
		"client_id":   p.clientID,
		"permissions": []string{"send_transcripts"},
		"iat":         now.Unix(),
		"nbf":         now.Unix(),
		"exp":         expiry.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("websocket: sign token: %w", err)
	}

	p.cached = signed
	p.expiry = expiry
	p.logger.Debugw("websocket: minted auth token", "client_id", p.clientID, "expires", expiry)
	return signed, nil
}
