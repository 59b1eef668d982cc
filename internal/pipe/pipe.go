// Package pipe runs one piped email through the ticket service, the way a
// mail transport agent hands messages to a delivery program.
package pipe

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/auth"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
	"github.com/PratikDhanave/ticket-gateway/internal/request"
	"github.com/PratikDhanave/ticket-gateway/internal/response"
	"github.com/PratikDhanave/ticket-gateway/internal/tickets"
)

// Run processes the raw email read from in and hands the outcome to out.
// The pipe is trusted: no API key is required.
func Run(ctx context.Context, svc *tickets.Service, in io.Reader, out response.Renderer, log zerolog.Logger) {
	out.Render(result(ctx, svc, in, log))
}

func result(ctx context.Context, svc *tickets.Service, in io.Reader, log zerolog.Logger) response.Result {
	fields, err := request.Decode(models.FormatEmail, in)
	if err != nil {
		return failed(log, err)
	}

	req, err := svc.Prepare(ctx, models.FormatEmail, fields)
	if err != nil {
		return failed(log, err)
	}

	t, err := svc.ProcessEmail(ctx, auth.Caller{}, req)
	if err != nil {
		return failed(log, err)
	}
	if t == nil {
		return failed(log, apierr.Failed("Request failed - retry again!"))
	}

	log.Info().Str("ticket", t.Number).Msg("piped email processed")
	return response.Created(t.Number)
}

func failed(log zerolog.Logger, err error) response.Result {
	r := response.FromError(err)
	ev := log.Warn()
	if r.Code >= 500 {
		ev = log.Error().Err(apierr.From(err).Unwrap())
	}
	ev.Int("code", r.Code).Int("exit", response.ExitCode(r.Code)).Msg(apierr.From(err).Message)
	return r
}
