package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Classify wraps a raw collaborator error into a transient or terminal
// OrderError. Errors that already carry a code are returned unchanged.
// Context cancellation is terminal: the caller gave up.
func Classify(op Operation, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *OrderError
	if errors.As(err, &orderErr) && orderErr.Code != "" {
		return err
	}
	if isTransientCause(err) {
		return NewTransientError(op, err)
	}
	return NewTerminalError(op, err)
}

func isTransientCause(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
}
