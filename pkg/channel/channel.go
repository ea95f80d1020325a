// Package channel defines the transmission contract between the dispatch queue and
// outbound delivery providers, plus the providers themselves in subpackages.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Envelope is the fully rendered message handed to a provider
type Envelope struct {
	MessageID   string `json:"message_id"`
	Recipient   string `json:"recipient"`
	Sender      string `json:"sender"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body,omitempty"`
	TextBody    string `json:"text_body,omitempty"`
	MessageType string `json:"message_type"`
}

// Receipt identifies an accepted transmission at the provider
type Receipt struct {
	ProviderMessageID string `json:"provider_message_id"`
	Provider          string `json:"provider"`
}

// Transmitter sends one envelope. Implementations own their timeouts and must classify
// failures as *TransientError or *PermanentError; unclassified errors are treated as transient.
type Transmitter interface {
	Name() string
	Transmit(ctx context.Context, env *Envelope) (*Receipt, error)
}

// TransientError is a failure that may succeed on a later attempt
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that will not succeed on retry, such as a rejected recipient
type PermanentError struct {
	Provider string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError from provider
func Transient(provider string, err error) error {
	return &TransientError{Provider: provider, Err: err}
}

// Permanent wraps err as a PermanentError from provider
func Permanent(provider string, err error) error {
	return &PermanentError{Provider: provider, Err: err}
}

// IsPermanent reports whether err is or wraps a PermanentError
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// IsTransient reports whether err should be retried. Anything not explicitly permanent is transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}
