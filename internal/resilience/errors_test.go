package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("invalid input: missing field")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ContextErrors(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		if IsTransient(fmt.Errorf("download aborted: %w", err)) {
			t.Errorf("%v should not be transient", err)
		}
	}
}

func TestIsTransient_Syscalls(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_TruncatedDownload(t *testing.T) {
	err := fmt.Errorf("copy result file: %w", io.ErrUnexpectedEOF)
	if !IsTransient(err) {
		t.Error("a body cut short mid-download should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	transient := []string{
		"read tcp 10.0.0.1:443: connection reset by peer",
		"write: broken pipe",
		"dial tcp: lookup api.openai.com: no such host",
		"net/http: TLS handshake timeout",
		"read tcp: i/o timeout",
	}
	for _, msg := range transient {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}

	permanent := []string{
		"json: cannot unmarshal string",
		"openai: status 400: invalid request",
	}
	for _, msg := range permanent {
		if IsTransient(errors.New(msg)) {
			t.Errorf("%q should not be transient", msg)
		}
	}
}
