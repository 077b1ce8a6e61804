package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"aksara/backend/internal/grounding"
	"aksara/backend/internal/provider"
)

const (
	titleMaxRunes     = 30
	generatedTitleMax = 60
)

// Complete relays one turn and returns the whole reply, including any
// grounding sources. Errors are always *Failure.
func (s *Service) Complete(ctx context.Context, req Request) (reply string, err error) {
	family := familyNone
	outcome := outcomeSuccess

	defer func() {
		if recovered := recover(); recovered != nil {
			failure := internalFailure(recovered)
			s.logger.Error().
				Interface("panic", recovered).
				Bytes("stack", debug.Stack()).
				Msg("relay completion panicked")
			reply, err = "", failure
			outcome = string(failure.Kind)
		}
		s.metrics.ObserveCompletion(family, outcome)
	}()

	t, failure := s.prepare(req)
	if failure != nil {
		outcome = string(failure.Kind)
		s.logFailure(failure, t.target)
		return "", failure
	}
	family = string(t.target.Family)

	var upstreamErr error
	switch t.target.Family {
	case provider.FamilyGemini:
		reply, upstreamErr = s.completeGemini(ctx, t)
	default:
		reply, upstreamErr = s.chat.ChatCompletion(ctx, t.target, t.chatRequest())
	}

	if upstreamErr != nil {
		failure := upstreamFailure(upstreamErr)
		if isCanceled(ctx, upstreamErr) {
			outcome = outcomeCanceled
			return "", failure
		}
		outcome = string(failure.Kind)
		s.metrics.ObserveUpstreamError(t.target.Provider, upstreamStatus(upstreamErr))
		s.logFailure(failure, t.target)
		return "", failure
	}

	return reply, nil
}

func (s *Service) completeGemini(ctx context.Context, t turn) (string, error) {
	resp, err := s.gemini.GenerateContent(ctx, t.target, t.geminiRequest())
	if err != nil {
		return "", err
	}
	reply := resp.Text()
	if suffix, ok := grounding.Sources(resp); ok {
		reply += suffix
	}
	return reply, nil
}

// Title asks the model for a short conversation title. When generation fails
// the truncated first message is returned together with the failure.
func (s *Service) Title(ctx context.Context, model, firstMessage string) (string, error) {
	fallback := TruncateTitle(firstMessage)
	if strings.TrimSpace(firstMessage) == "" {
		return fallback, validationFailure(errEmptyMessage)
	}

	reply, err := s.Complete(ctx, Request{Model: model, Message: titlePrompt + strings.TrimSpace(firstMessage)})
	if err != nil {
		return fallback, err
	}

	title := cleanTitle(reply)
	if title == "" {
		return fallback, errors.New("model returned an empty title")
	}
	return title, nil
}

// TruncateTitle derives a title from the first user message: at most 30 runes,
// with an ellipsis when cut.
func TruncateTitle(message string) string {
	text := strings.Join(strings.Fields(message), " ")
	if text == "" {
		return "Percakapan Baru"
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "..."
}

func cleanTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "Judul:")
	line = strings.Trim(strings.TrimSpace(line), "\"'*#` ")
	if utf8.RuneCountInString(line) > generatedTitleMax {
		line = strings.TrimSpace(string([]rune(line)[:generatedTitleMax])) + "..."
	}
	return line
}
