// Package guard is the only gate views use to decide whether protected
// UI is rendered or a protected route is served.
package guard

import (
	"html/template"
	"log/slog"

	"github.com/schoolhub/schoolhub/internal/permission"
)

// Guard evaluates entity and route permissions on every call. It keeps no
// verdict between calls, so a role change shows up on the next render.
type Guard struct {
	evaluator *permission.Evaluator
	logger    *slog.Logger
}

// New builds a Guard over evaluator. A nil evaluator uses the default table.
func New(evaluator *permission.Evaluator, logger *slog.Logger) *Guard {
	if evaluator == nil {
		evaluator = permission.NewEvaluator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{evaluator: evaluator, logger: logger}
}

// Evaluator exposes the evaluator behind the guard.
func (g *Guard) Evaluator() *permission.Evaluator { return g.evaluator }

// Allows reports whether sub may perform operation on entity. Missing or
// unknown tags deny.
func (g *Guard) Allows(sub permission.Subject, entity, operation string) bool {
	if entity == "" || operation == "" {
		g.logger.Debug("guard called without entity or operation", slog.String("entity", entity), slog.String("operation", operation))
		return false
	}
	allowed, err := g.evaluator.Decide(sub, entity, operation)
	if err != nil {
		g.logger.Debug("guard rejected tag", slog.String("entity", entity), slog.String("operation", operation), slog.Any("error", err))
		return false
	}
	return allowed
}

// AllowsRoute reports whether sub may view route.
func (g *Guard) AllowsRoute(sub permission.Subject, route string) bool {
	return g.evaluator.CheckRoute(sub, route)
}

// Render returns content when Allows holds, otherwise the first fallback,
// or nothing.
func (g *Guard) Render(sub permission.Subject, entity, operation string, content template.HTML, fallback ...template.HTML) template.HTML {
	if g.Allows(sub, entity, operation) {
		return content
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

// FuncMap exposes the guard to templates:
//
//	{{if can .Subject "STUDENT" "CREATE"}}...{{end}}
//	{{if canRoute .Subject "/audit"}}...{{end}}
//	{{guard .Subject "STUDENT" "DELETE" $button}}
func (g *Guard) FuncMap() template.FuncMap {
	return template.FuncMap{
		"can":      g.Allows,
		"canRoute": g.AllowsRoute,
		"guard":    g.Render,
	}
}
