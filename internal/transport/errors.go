package transport

import (
	"errors"
	"fmt"

	"github.com/emersion/go-smtp"
)

// SendError is returned by transports. Code is the remote reply code and is
// zero when the remote side was never reached.
type SendError struct {
	Transport string
	Code      int
	// Permanent means resending the same message will fail again.
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d: %v", e.Transport, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Transport, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsRejected reports whether the remote server answered and refused the
// message, as opposed to the transport being unusable.
func IsRejected(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Code != 0
}

// IsPermanent reports whether err will not go away on resend.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// classifySMTP wraps an error from one step of an SMTP conversation. 5xx
// replies are permanent rejections, 4xx replies transient ones, anything
// else means the server could not be reached or spoken to.
func classifySMTP(step string, err error) error {
	wrapped := fmt.Errorf("%s: %w", step, err)
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &SendError{
			Transport: "smtp",
			Code:      se.Code,
			Permanent: se.Code >= 500 && se.Code < 600,
			Err:       wrapped,
		}
	}
	return &SendError{Transport: "smtp", Err: wrapped}
}
