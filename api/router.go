// Package api binds the collaboration core to an HTTP surface. The
// transport is a plain net/http mux; every route delegates to a
// handler in the handlers subpackage.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/outdoorsea/crewAI-sub001/api/handlers"
	"github.com/outdoorsea/crewAI-sub001/contextstore"
	"github.com/outdoorsea/crewAI-sub001/conversation"
	"github.com/outdoorsea/crewAI-sub001/delegation"
	"github.com/outdoorsea/crewAI-sub001/internal/metrics"
	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/session"
	"github.com/outdoorsea/crewAI-sub001/task"
)

// Deps are the components the API binds.
type Deps struct {
	Registry     *registry.Registry
	ContextStore contextstore.Store
	Conversation *conversation.Tracker
	Engine       *delegation.Engine
	Tasks        *task.Store
	Sessions     *session.Manager

	// Metrics, when set, records per-request instrumentation and is
	// served at /metrics via its Gatherer.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// RateLimiter, when set, applies a global request rate limit.
	RateLimiter *rate.Limiter

	Logger *zap.Logger
}

// NewRouter builds the complete HTTP handler: routes plus the
// middleware chain (recovery, tracing, metrics, rate limit, logging).
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "api"))

	agents := handlers.NewAgentHandler(deps.Registry, logger)
	contexts := handlers.NewContextHandler(deps.ContextStore, logger)
	conversations := handlers.NewConversationHandler(deps.Conversation, logger)
	delegations := handlers.NewDelegationHandler(deps.Engine, deps.Tasks, deps.Sessions, logger)
	sessions := handlers.NewSessionHandler(deps.Sessions, logger)
	health := handlers.NewHealthHandler(deps.ContextStore, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReadyz)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /v1/agents", agents.HandleRegister)
	mux.HandleFunc("GET /v1/agents", agents.HandleList)
	mux.HandleFunc("GET /v1/agents/{id}", agents.HandleGet)
	mux.HandleFunc("PUT /v1/agents/{id}/availability", agents.HandleSetAvailability)
	mux.HandleFunc("POST /v1/agents/{id}/deactivate", agents.HandleDeactivate)
	mux.HandleFunc("GET /v1/candidates", agents.HandleCandidates)

	mux.HandleFunc("POST /v1/context", contexts.HandleCreate)
	mux.HandleFunc("GET /v1/context", contexts.HandleSearch)
	mux.HandleFunc("GET /v1/context/stats", contexts.HandleStats)
	mux.HandleFunc("GET /v1/context/{id}", contexts.HandleRead)
	mux.HandleFunc("PATCH /v1/context/{id}", contexts.HandleUpdate)
	mux.HandleFunc("DELETE /v1/context/{id}", contexts.HandleDelete)

	mux.HandleFunc("POST /v1/conversations", conversations.HandleStart)
	mux.HandleFunc("GET /v1/conversations/stats", conversations.HandleStats)
	mux.HandleFunc("GET /v1/conversations/{id}", conversations.HandleGet)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", conversations.HandleAppend)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", conversations.HandleHistory)
	mux.HandleFunc("POST /v1/conversations/{id}/participants", conversations.HandleAddParticipant)

	mux.HandleFunc("POST /v1/tasks", delegations.HandleCreateTask)
	mux.HandleFunc("GET /v1/tasks/{id}", delegations.HandleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/status", sessions.HandleUpdateTaskStatus)
	mux.HandleFunc("POST /v1/tasks/{id}/handoff", delegations.HandleHandoff)
	mux.HandleFunc("GET /v1/tasks/{id}/delegations", delegations.HandleListByTask)

	mux.HandleFunc("POST /v1/delegations", delegations.HandleDelegate)
	mux.HandleFunc("GET /v1/delegations/{id}", delegations.HandleGetDelegation)
	mux.HandleFunc("POST /v1/delegations/{id}/respond", delegations.HandleRespond)

	mux.HandleFunc("POST /v1/sessions", sessions.HandleCreate)
	mux.HandleFunc("GET /v1/sessions", sessions.HandleList)
	mux.HandleFunc("GET /v1/sessions/{id}", sessions.HandleStatus)
	mux.HandleFunc("POST /v1/sessions/{id}/tasks", sessions.HandleAddTask)
	mux.HandleFunc("POST /v1/sessions/{id}/dependencies", sessions.HandleAddDependency)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", sessions.HandleCancel)
	mux.HandleFunc("POST /v1/sessions/advance", sessions.HandleAdvance)

	var handler http.Handler = mux
	handler = withMetrics(deps.Metrics, handler)
	handler = withRateLimit(deps.RateLimiter, handler)
	handler = withTracing(handler)
	handler = withLogging(logger, handler)
	handler = withRecovery(logger, handler)
	return handler
}
