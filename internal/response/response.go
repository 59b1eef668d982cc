// Package response renders an operation result on one of two channels:
// an HTTP response, or the exit status of a mail-transport pipe process.
// Operations produce a Result and never know which channel is active.
package response

import (
	"net/http"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
)

// Result is what every ticket operation hands to a Renderer.
type Result struct {
	Code    int
	Payload any
}

// Created is a successful result.
func Created(payload any) Result {
	return Result{Code: http.StatusCreated, Payload: payload}
}

// FromError converts err into a result carrying its code and client
// message. Causes of 500 errors are not exposed.
func FromError(err error) Result {
	e := apierr.From(err)
	return Result{Code: e.Code, Payload: e.Message}
}

// Renderer delivers a Result and owns the termination of the call.
type Renderer interface {
	Render(Result)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(Result)

func (f RenderFunc) Render(r Result) { f(r) }
