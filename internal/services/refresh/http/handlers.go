// Package http provides http transport for the refresh admin surface
package http

import (
	stdhttp "net/http"
	"net/url"
	"strconv"

	"curator/internal/core/entitykey"
	"curator/internal/modkit/httpkit"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/platform/net/middleware"
	"curator/internal/services/refresh/domain"
	svc "curator/internal/services/refresh/service"

	"github.com/go-chi/chi/v5"
)

// Register mounts refresh endpoints on the given router
// sweep and the credential pool sit behind admin when it is non nil
func Register(r httpkit.Router, s svc.Service, admin middleware.AuthPort) {
	h := &handlers{svc: s}

	// queue work
	httpkit.PostBound(r, "/jobs", h.request)

	// reads
	httpkit.Get(r, "/entities/*", h.entity)
	httpkit.Get(r, "/queue", h.queue)
	httpkit.Get(r, "/notifications/{target}", h.notifications)

	httpkit.Protected(r, admin, func(pr httpkit.Router) {
		httpkit.PostBound(pr, "/sweep", h.sweep)

		// credential pool
		httpkit.Get(pr, "/credentials/{backend}", h.credentials)
		pr.Post("/credentials", httpkit.Handle(h.register))
		httpkit.Post(pr, "/credentials/{backend}/{id}/revalidate", h.revalidate)
	})
}

type handlers struct{ svc svc.Service }

// swagger:route POST /refresh/jobs Refresh refreshRequest
// @Summary Queue a refresh of one entity
// @Tags Refresh
// @Accept json
// @Produce json
// @Param payload body domain.RefreshRequest true "Request"
// @Success 200 {object} domain.RefreshAccepted "ok"
// @Failure 422 {object} httpkit.Envelope "invalid entity"
// @Router /refresh/jobs [post]
func (h *handlers) request(r *stdhttp.Request, in domain.RefreshRequest) (any, error) {
	key, err := in.Key()
	if err != nil {
		return nil, err
	}
	ok, err := h.svc.Request(r.Context(), in)
	if err != nil {
		return nil, err
	}
	return domain.RefreshAccepted{EntityKey: key.String(), Accepted: ok}, nil
}

// swagger:route POST /refresh/sweep Refresh refreshSweep
// @Summary Queue every entity that is due
// @Tags Refresh
// @Accept json
// @Produce json
// @Param payload body domain.SweepRequest true "Sweep"
// @Success 200 {object} domain.SweepResult "ok"
// @Failure 409 {object} httpkit.Envelope "another sweep is running"
// @Failure 401 {object} httpkit.Envelope "missing or bad admin token"
// @Security BearerAuth
// @Router /refresh/sweep [post]
func (h *handlers) sweep(r *stdhttp.Request, in domain.SweepRequest) (any, error) {
	n, err := h.svc.Sweep(r.Context(), domain.SweepParams{
		Backend:  in.Backend,
		Limit:    in.Limit,
		Depth:    in.Depth,
		Priority: in.Priority,
	})
	if err != nil {
		return nil, err
	}
	return domain.SweepResult{Enqueued: n}, nil
}

// swagger:route GET /refresh/entities/{key} Refresh refreshEntity
// @Summary Entity with derived status
// @Tags Refresh
// @Produce json
// @Param key path string true "Entity key backend:kind:natural_key"
// @Success 200 {object} domain.EntityView "ok"
// @Failure 404 {object} httpkit.Envelope "not found"
// @Router /refresh/entities/{key} [get]
func (h *handlers) entity(r *stdhttp.Request) (any, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return nil, perr.InvalidArgf("entity key: %v", err)
	}
	key, err := entitykey.Parse(raw)
	if err != nil {
		return nil, err
	}
	return h.svc.Entity(r.Context(), key)
}

// swagger:route GET /refresh/queue Refresh refreshQueue
// @Summary Queue bucket depths
// @Tags Refresh
// @Produce json
// @Success 200 {object} domain.QueueView "ok"
// @Router /refresh/queue [get]
func (h *handlers) queue(r *stdhttp.Request) (any, error) {
	return h.svc.Queue(r.Context())
}

// swagger:route GET /refresh/notifications/{target} Refresh refreshNotifications
// @Summary Newest notifications for a requester
// @Tags Refresh
// @Produce json
// @Param target path string true "Requester"
// @Param limit query int false "Max items"
// @Success 200 {array} domain.Notification "ok"
// @Router /refresh/notifications/{target} [get]
func (h *handlers) notifications(r *stdhttp.Request) (any, error) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, perr.InvalidArgf("limit must be a non negative integer")
		}
		limit = n
	}
	return h.svc.Notifications(r.Context(), chi.URLParam(r, "target"), limit)
}

// swagger:route GET /refresh/credentials/{backend} Refresh refreshCredentials
// @Summary Credentials of a backend, secrets redacted
// @Tags Refresh
// @Produce json
// @Param backend path string true "Backend"
// @Success 200 {object} domain.CredentialsView "ok"
// @Security BearerAuth
// @Router /refresh/credentials/{backend} [get]
func (h *handlers) credentials(r *stdhttp.Request) (any, error) {
	return h.svc.Credentials(r.Context(), chi.URLParam(r, "backend"))
}

// swagger:route POST /refresh/credentials Refresh refreshRegisterCredential
// @Summary Register a credential
// @Tags Refresh
// @Accept json
// @Produce json
// @Param payload body domain.CredentialRegistration true "Credential"
// @Success 201 {object} domain.RegisteredCredential "created"
// @Success 200 {object} domain.RegisteredCredential "already registered"
// @Security BearerAuth
// @Router /refresh/credentials [post]
func (h *handlers) register(r *stdhttp.Request) httpkit.Response {
	in, err := bindRegistration(r)
	if err != nil {
		return httpkit.Error(err)
	}
	c, created, err := h.svc.RegisterCredential(r.Context(), in)
	if err != nil {
		return httpkit.Error(err)
	}
	if uid, err := httpkit.User(r); err == nil {
		logger.C(r.Context()).Info().
			Str("admin", uid).
			Str("backend", c.Backend).
			Bool("created", created).
			Msg("credential registered")
	}
	out := domain.RegisteredCredential{Credential: c, Created: created}
	if created {
		return httpkit.Created(out)
	}
	return httpkit.OK(out)
}

// swagger:route POST /refresh/credentials/{backend}/{id}/revalidate Refresh refreshRevalidateCredential
// @Summary Return a blocked credential to service
// @Tags Refresh
// @Param backend path string true "Backend"
// @Param id path string true "Credential id"
// @Success 204 "revalidated"
// @Failure 404 {object} httpkit.Envelope "unknown credential"
// @Security BearerAuth
// @Router /refresh/credentials/{backend}/{id}/revalidate [post]
func (h *handlers) revalidate(r *stdhttp.Request) (any, error) {
	if err := h.svc.RevalidateCredential(r.Context(), chi.URLParam(r, "backend"), chi.URLParam(r, "id")); err != nil {
		return nil, err
	}
	return httpkit.NoContent(), nil
}
