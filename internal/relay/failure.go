package relay

import (
	"errors"
	"fmt"
	"net/http"

	"aksara/backend/internal/provider"
)

type FailureKind string

const (
	KindValidation    FailureKind = "validation"
	KindConfiguration FailureKind = "configuration"
	KindUpstream      FailureKind = "upstream"
	KindInternal      FailureKind = "internal"
)

// Failure is the error returned by Complete. Message is safe to show to end
// users; Err carries the underlying cause for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

var (
	errEmptyMessage = errors.New("message is required")
	errInvalidImage = errors.New("image data is not a valid base64 image")
)

func validationFailure(err error) *Failure {
	message := messageEmpty
	if errors.Is(err, errInvalidImage) {
		message = messageInvalidImage
	}
	return &Failure{Kind: KindValidation, Message: message, Err: err}
}

func configurationFailure(err error) *Failure {
	var cfgErr *provider.ConfigError
	if errors.As(err, &cfgErr) {
		return &Failure{
			Kind:    KindConfiguration,
			Message: fmt.Sprintf(messageConfigFormat, provider.DisplayName(cfgErr.Model), cfgErr.Missing),
			Err:     err,
		}
	}
	return &Failure{Kind: KindConfiguration, Message: messageGeneric, Err: err}
}

// upstreamFailure maps a provider error to a user message by HTTP status.
// Errors without a status (transport failures) get the generic message.
func upstreamFailure(err error) *Failure {
	var cfgErr *provider.ConfigError
	if errors.As(err, &cfgErr) {
		return configurationFailure(err)
	}

	message := messageGeneric
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			message = messageRateLimited
		case http.StatusPaymentRequired:
			message = messageInsufficientBalance
		case http.StatusUnauthorized, http.StatusForbidden:
			message = messageInvalidKey
		}
	}
	return &Failure{Kind: KindUpstream, Message: message, Err: err}
}

func internalFailure(recovered any) *Failure {
	return &Failure{Kind: KindInternal, Message: messageInternal, Err: fmt.Errorf("panic: %v", recovered)}
}

// upstreamStatus returns the HTTP status carried by err, or 0.
func upstreamStatus(err error) int {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
