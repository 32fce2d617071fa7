package http

import (
	stdhttp "net/http"

	pnet "curator/internal/platform/net"
	"curator/internal/platform/net/http/bind"
)

// Envelope is the body every route answers with
type Envelope = pnet.Envelope

// Response is what return style handlers produce
type Response struct {
	Status int
	// Body is the payload, an error becomes an error envelope
	Body any
}

// Handle adapts a Response returning func to a route handler
func Handle(h func(*stdhttp.Request) Response) Handler {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		resp := h(r)
		pnet.Write(w, r, resp.Status, resp.Body)
	}
}

// OK is a 200 carrying data
func OK(data any) Response { return Response{Status: stdhttp.StatusOK, Body: data} }

// Created is a 201 carrying data
func Created(data any) Response { return Response{Status: stdhttp.StatusCreated, Body: data} }

// NoContent is an empty 204
func NoContent() Response { return Response{Status: stdhttp.StatusNoContent} }

// Error maps err onto its status
func Error(err error) Response { return Response{Body: err} }

// Call wraps a plain handler, a returned Response passes through untouched
func Call(fn func(*stdhttp.Request) (any, error)) Handler {
	return Handle(func(r *stdhttp.Request) Response { return result(fn(r)) })
}

// JSONHandler binds and validates the body into T before calling fn
func JSONHandler[T any](fn func(*stdhttp.Request, T) (any, error)) Handler {
	return Handle(func(r *stdhttp.Request) Response {
		in, err := bind.JSON[T](r, bind.Options{})
		if err != nil {
			return Error(err)
		}
		return result(fn(r, in))
	})
}

func result(out any, err error) Response {
	if err != nil {
		return Error(err)
	}
	if resp, ok := out.(Response); ok {
		return resp
	}
	return OK(out)
}
