// Package httpkit is what modules import to declare routes and answer requests,
// so they never touch the platform http packages directly
package httpkit

import (
	"net/http"

	perr "curator/internal/platform/errors"
	pnet "curator/internal/platform/net"
	phttp "curator/internal/platform/net/http"
)

type (
	// Envelope is the body every route answers with
	Envelope = phttp.Envelope

	// Response is what return style handlers produce
	Response = phttp.Response

	// Handler is the handler shape routes take
	Handler = phttp.Handler

	// Router is the surface modules mount routes on
	Router = phttp.Router
)

// OK is a 200 carrying data
func OK(data any) Response { return phttp.OK(data) }

// Created is a 201 carrying data
func Created(data any) Response { return phttp.Created(data) }

// NoContent is an empty 204
func NoContent() Response { return phttp.NoContent() }

// Error maps err onto its status
func Error(err error) Response { return phttp.Error(err) }

// Handle adapts a Response returning func
func Handle(fn func(*http.Request) Response) Handler { return phttp.Handle(fn) }

// Get mounts a body-less GET, the result is wrapped in OK unless it is a Response
func Get(r Router, path string, h func(*http.Request) (any, error)) {
	r.Get(path, phttp.Call(h))
}

// Post mounts a body-less POST
func Post(r Router, path string, h func(*http.Request) (any, error)) {
	r.Post(path, phttp.Call(h))
}

// PostBound mounts a POST whose JSON body is bound and validated into T first
func PostBound[T any](r Router, path string, h func(*http.Request, T) (any, error)) {
	r.Post(path, phttp.JSONHandler(h))
}

// User is the principal the auth middleware attached
func User(r *http.Request) (string, error) {
	if uid := pnet.UserID(r.Context()); uid != "" {
		return uid, nil
	}
	return "", perr.Unauthorizedf("missing bearer token")
}
