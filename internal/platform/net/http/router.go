// Package http is the routing seam modules mount against, backed by chi
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler is the handler shape routes take
type Handler = func(http.ResponseWriter, *http.Request)

// Router is the surface modules mount routes on
type Router interface {
	Get(path string, h Handler)
	Post(path string, h Handler)
	Put(path string, h Handler)
	Patch(path string, h Handler)
	Delete(path string, h Handler)
	Head(path string, h Handler)
	Options(path string, h Handler)

	Handle(path string, h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	Group(fn func(Router))
	Route(pattern string, fn func(Router))

	Mux() http.Handler
}

// AdaptChi exposes a chi router as a Router
func AdaptChi(m chi.Router) Router { return chiRouter{m} }

type chiRouter struct{ r chi.Router }

func (c chiRouter) Get(p string, h Handler)     { c.r.MethodFunc(http.MethodGet, p, h) }
func (c chiRouter) Post(p string, h Handler)    { c.r.MethodFunc(http.MethodPost, p, h) }
func (c chiRouter) Put(p string, h Handler)     { c.r.MethodFunc(http.MethodPut, p, h) }
func (c chiRouter) Patch(p string, h Handler)   { c.r.MethodFunc(http.MethodPatch, p, h) }
func (c chiRouter) Delete(p string, h Handler)  { c.r.MethodFunc(http.MethodDelete, p, h) }
func (c chiRouter) Head(p string, h Handler)    { c.r.MethodFunc(http.MethodHead, p, h) }
func (c chiRouter) Options(p string, h Handler) { c.r.MethodFunc(http.MethodOptions, p, h) }

func (c chiRouter) Handle(p string, h http.Handler)           { c.r.Handle(p, h) }
func (c chiRouter) Use(mw ...func(http.Handler) http.Handler) { c.r.Use(mw...) }
func (c chiRouter) Mux() http.Handler                         { return c.r }

func (c chiRouter) Group(fn func(Router)) {
	c.r.Group(func(sub chi.Router) { fn(chiRouter{sub}) })
}

func (c chiRouter) Route(pattern string, fn func(Router)) {
	c.r.Route(pattern, func(sub chi.Router) { fn(chiRouter{sub}) })
}
