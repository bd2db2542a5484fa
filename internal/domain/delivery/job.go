// Package delivery sends purchase confirmations (license key and signed
// download link) out of band from order creation.
//
// Producers submit jobs through a Queue; a worker process pulls them and hands
// each one to Dispatcher.Process. Returning an error from Process asks the
// queue to retry with backoff; errors marked Permanent skip retries.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
)

// JobSendLink is the only job kind the dispatcher understands.
const JobSendLink = "send-link"

// SendLink is the payload of a JobSendLink job.
type SendLink struct {
	RecipientEmail string `json:"recipientEmail"`
	DownloadLink   string `json:"downloadLink"`
	OrderID        string `json:"orderId"`
	ProductTitle   string `json:"productTitle"`
	LicenseKey     string `json:"licenseKey"`
}

// Job is a queued unit of work as seen by the consumer.
type Job struct {
	ID      string
	Name    string
	Data    []byte
	Attempt int
}

// Queue durably stores a job before returning. A worker eventually attempts
// it at least once.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
