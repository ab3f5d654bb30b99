// Package server wires the relay's control plane (TLS) and audio plane
// (UDP) to the storage, auth, channel, and permission layers.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bg9m9r/whispr-sub001/pkg/auth"
	"github.com/bg9m9r/whispr-sub001/pkg/channel"
	"github.com/bg9m9r/whispr-sub001/pkg/crypto"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/rbac"
)

// Server holds every live piece of the relay: the storage handle, the
// domain services layered over it, and the two network listeners.
type Server struct {
	cfg Config

	store    datastore.DataStore
	auth     *auth.Service
	channels *channel.Service
	endpoint *channel.EndpointRegistry
	sessions *SessionManager
	perms    *rbac.Evaluator
	metrics  *Metrics
	registry *prometheus.Registry

	controlConn net.Listener
	audioConn   *net.UDPConn
	tlsCert     tls.Certificate
	messageKey  []byte // server-wide at-rest encryption key for persisted chat messages
	rateLimit   *rateLimiters

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a Server from a config and an already-open store. The caller
// owns the store's lifetime and should Close it after Shutdown returns.
func New(cfg Config, store datastore.DataStore) (*Server, error) {
	cert, err := crypto.LoadPKCS12Certificate(cfg.CertificatePath, cfg.CertificatePassword)
	if err != nil {
		return nil, fmt.Errorf("server: load certificate: %w", err)
	}
	messageKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("server: generate message key: %w", err)
	}

	tokenLifetime := time.Duration(cfg.TokenLifetimeHours) * time.Hour
	registry := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:      cfg,
		store:    store,
		auth:     auth.NewService(store, tokenLifetime),
		channels: channel.NewService(store),
		endpoint: channel.NewEndpointRegistry(),
		sessions: NewSessionManager(),
		perms:    rbac.NewEvaluator(store),
		metrics:  NewMetrics(registry),
		registry:   registry,
		tlsCert:    cert,
		messageKey: messageKey,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Channels returns the channel service.
func (s *Server) Channels() *channel.Service { return s.channels }

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Auth returns the auth service.
func (s *Server) Auth() *auth.Service { return s.auth }

// Permissions returns the permission evaluator.
func (s *Server) Permissions() *rbac.Evaluator { return s.perms }

// Store returns the underlying datastore.
func (s *Server) Store() datastore.DataStore { return s.store }

// Shutdown cancels the server context and closes both listeners.
func (s *Server) Shutdown() {
	s.cancel()
	if s.controlConn != nil {
		_ = s.controlConn.Close()
	}
	if s.audioConn != nil {
		_ = s.audioConn.Close()
	}
	slog.Info("server shut down")
}
