package errors

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category, independent of the operation that failed.
type Kind string

const (
	KindOther            Kind = ""
	KindInvalid          Kind = "invalid"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindRejected         Kind = "rejected"
	KindUnavailable      Kind = "unavailable"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal"
)

// Op is the builder argument naming the failing operation.
type Op string

// Component is the builder argument naming the failing component.
type Component string

// E builds an OrderError from its arguments. Each argument is interpreted by
// type: Op, Operation, Component, Kind, ErrorCode, error, and string (a
// message that is wrapped around the error, or becomes the error when none
// is given). A bool sets Retryable.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &OrderError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case bool:
			e.Retryable = a
		case *OrderError:
			cp := *a
			e.Err = &cp
			if e.Kind == KindOther {
				e.Kind = a.Kind
			}
			if e.Code == "" {
				e.Code = a.Code
			}
			e.Retryable = e.Retryable || a.Retryable
		case error:
			e.Err = a
		case string:
			msgs = append(msgs, a)
		default:
			msgs = append(msgs, fmt.Sprintf("unknown argument %T(%v)", arg, arg))
		}
	}
	for _, m := range msgs {
		if e.Err == nil {
			e.Err = errors.New(m)
			continue
		}
		e.Err = fmt.Errorf("%s: %w", m, e.Err)
	}
	if e.Err == nil {
		e.Err = errors.New("unspecified error")
	}
	return e
}

// KindOf returns the Kind of the outermost OrderError in err's chain that has one.
func KindOf(err error) Kind {
	for err != nil {
		var orderErr *OrderError
		if !errors.As(err, &orderErr) {
			return KindOther
		}
		if orderErr.Kind != KindOther {
			return orderErr.Kind
		}
		err = orderErr.Err
	}
	return KindOther
}
