package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// AgentTypeKey is the context key for the agent type taken from the request.
const AgentTypeKey contextKey = "agent_type"

// AgentType extracts the persona selector from the request. It checks the
// X-Agent-Type header, then the agentType query parameter. A value in the
// JSON body takes precedence over both; see GetAgentType.
func AgentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent := agentTypeFrom(r)
		if agent == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), AgentTypeKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAgentType retrieves the agent type from the request context.
func GetAgentType(ctx context.Context) string {
	if v, ok := ctx.Value(AgentTypeKey).(string); ok {
		return v
	}
	return ""
}

func agentTypeFrom(r *http.Request) string {
	if agent := strings.TrimSpace(r.Header.Get("X-Agent-Type")); agent != "" {
		return agent
	}
	return strings.TrimSpace(r.URL.Query().Get("agentType"))
}
