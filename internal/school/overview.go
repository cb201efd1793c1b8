package school

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/shared"
)

type auditPage struct {
	Entries    []AuditEntry
	Search     string
	Pagination shared.Pagination
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	var summary DashboardSummary
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		summary, err = d.Summary(ctx)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/dashboard.html", "Dashboard", summary)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	params := listParams(r)
	var page Page[AuditEntry]
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		page, err = d.ListAudit(ctx, params)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/audit.html", "Audit trail", auditPage{
		Entries:    page.Items,
		Search:     params.Search,
		Pagination: shared.NewPagination(params.Page, params.PerPage, page.Total),
	})
}

func (h *Handler) showAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var entry AuditEntry
	err := h.call(r, func(ctx context.Context, d *Directory) (err error) {
		entry, err = d.AuditEntry(ctx, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/audit_entry.html", "Audit entry", entry)
}

func currentUserID(r *http.Request) string {
	cs := auth.ClientSessionFromContext(r.Context())
	if cs == nil {
		return ""
	}
	if u := cs.Session.User(); u != nil {
		return u.ID
	}
	return ""
}
