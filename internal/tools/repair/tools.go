package repair

import (
	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/observability"
	"github.com/haasonsaas/servicedesk/internal/sessions"
)

// Register adds the repair tools to registry.
func Register(registry *agent.ToolRegistry, confirmer Confirmer, store sessions.Store, logger *observability.Logger) {
	registry.Register(NewConfirmTool(confirmer, store, logger))
	registry.Register(NewSessionTool(store))
}
