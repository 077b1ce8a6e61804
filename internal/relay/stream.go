package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"aksara/backend/internal/gemini"
	"aksara/backend/internal/grounding"
	"aksara/backend/internal/provider"
)

const (
	outcomeSuccess  = "success"
	outcomeCanceled = "canceled"
	familyNone      = "none"
)

// stream tracks what has been sent to one client.
type stream struct {
	emit       func(Frame) error
	full       strings.Builder
	frames     int
	terminated bool
	emitErr    error
}

func (st *stream) content(text string) error {
	if text == "" {
		return nil
	}
	if err := st.emit(Frame{Text: text}); err != nil {
		st.emitErr = err
		return err
	}
	st.full.WriteString(text)
	st.frames++
	return nil
}

func (st *stream) finish() error {
	st.terminated = true
	return st.emit(Frame{Text: "", Done: true, FullText: st.full.String()})
}

func (st *stream) fail(f *Failure) error {
	st.terminated = true
	return st.emit(Frame{Text: f.Message, Done: true, Error: true})
}

// Stream relays one turn, calling emit for every content increment in
// upstream order followed by exactly one terminal frame. Failures become an
// error flavored terminal frame. The returned error is non-nil only when the
// client could not be written to or ctx ended; no terminal frame is attempted
// in that case.
func (s *Service) Stream(ctx context.Context, req Request, emit func(Frame) error) (err error) {
	st := &stream{emit: emit}
	started := time.Now()
	family := familyNone
	outcome := outcomeSuccess

	defer func() {
		if recovered := recover(); recovered != nil {
			failure := internalFailure(recovered)
			outcome = string(failure.Kind)
			s.logger.Error().
				Interface("panic", recovered).
				Bytes("stack", debug.Stack()).
				Msg("relay stream panicked")
			if !st.terminated && st.emitErr == nil {
				err = st.fail(failure)
			}
		}
		s.metrics.ObserveStream(family, outcome, st.frames, time.Since(started))
	}()

	t, failure := s.prepare(req)
	if failure != nil {
		outcome = string(failure.Kind)
		s.logFailure(failure, t.target)
		return st.fail(failure)
	}
	family = string(t.target.Family)

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	var upstreamErr error
	switch t.target.Family {
	case provider.FamilyGemini:
		upstreamErr = s.streamGemini(ctx, t, st)
	default:
		upstreamErr = s.streamChat(ctx, t, st)
	}

	if upstreamErr != nil {
		if st.emitErr != nil {
			outcome = outcomeCanceled
			return st.emitErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome = outcomeCanceled
			return ctxErr
		}
		failure := upstreamFailure(upstreamErr)
		outcome = string(failure.Kind)
		s.metrics.ObserveUpstreamError(t.target.Provider, upstreamStatus(upstreamErr))
		s.logFailure(failure, t.target)
		return st.fail(failure)
	}

	return st.finish()
}

func (s *Service) streamGemini(ctx context.Context, t turn, st *stream) error {
	aggregate, err := s.gemini.StreamGenerateContent(ctx, t.target, t.geminiRequest(), func(chunk gemini.GenerateResponse) error {
		return st.content(chunk.Text())
	})
	if err != nil {
		return err
	}

	if suffix, ok := grounding.Sources(aggregate); ok {
		return st.content(suffix)
	}
	return nil
}

func (s *Service) streamChat(ctx context.Context, t turn, st *stream) error {
	return s.chat.StreamChatCompletion(ctx, t.target, t.chatRequest(), st.content)
}

func (s *Service) logFailure(f *Failure, target provider.Target) {
	event := s.logger.Warn()
	if f.Kind == KindInternal {
		event = s.logger.Error()
	}
	event = event.Str("kind", string(f.Kind)).Err(f.Err)
	if target.Provider != "" {
		event = event.Str("provider", target.Provider).Str("upstream_model", target.Model)
	}
	if status := upstreamStatus(f.Err); status != 0 {
		event = event.Int("status", status)
	}
	event.Msg("relay request failed")
}

// isCanceled reports whether err is the result of the caller going away.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
