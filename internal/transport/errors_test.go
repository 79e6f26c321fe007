package transport

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestClassifySMTP(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRejected  bool
		wantPermanent bool
		wantCode      int
	}{
		{
			name:          "550 mailbox unavailable",
			err:           &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"},
			wantRejected:  true,
			wantPermanent: true,
			wantCode:      550,
		},
		{
			name:         "451 try again later",
			err:          &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "greylisted"},
			wantRejected: true,
			wantCode:     451,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
		},
		{
			name:          "wrapped 554",
			err:           fmt.Errorf("rcpt: %w", &smtp.SMTPError{Code: 554, Message: "spam"}),
			wantRejected:  true,
			wantPermanent: true,
			wantCode:      554,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySMTP("send", tt.err)
			if got := IsRejected(err); got != tt.wantRejected {
				t.Errorf("IsRejected = %v, want %v", got, tt.wantRejected)
			}
			if got := IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.wantPermanent)
			}
			var se *SendError
			if !errors.As(err, &se) || se.Code != tt.wantCode {
				t.Errorf("SendError code = %+v, want %d", se, tt.wantCode)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error does not wrap the original")
			}
		})
	}
}

func TestIsRejected_ForeignError(t *testing.T) {
	if IsRejected(errors.New("boom")) || IsPermanent(errors.New("boom")) {
		t.Error("plain errors must not be classified")
	}
}
