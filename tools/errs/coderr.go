package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Error codes for this subsystem. Contract errors are never caught
// internally; callers decide how to surface them.
const (
	RecordNotFoundError   = 1001
	NotImplementedError   = 1002
	TrackingAggregateFail = 1003
	InvariantViolation    = 1004
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack to the error.
func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

func (e *CodeError) Wrapf(format string, args ...any) error {
	d := e.WithDetail(fmt.Sprintf(format, args...))
	return errors.WithStack(&d)
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

func (e *CodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(strconv.Itoa(e.Code))
	sb.WriteString("] ")
	sb.WriteString(e.Msg)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Is matches by code so callers can use errors.Is with the sentinels below.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrRecordNotFound     = NewCodeError(RecordNotFoundError, "record not found")
	ErrNotImplemented     = NewCodeError(NotImplementedError, "not implemented")
	ErrTrackingAggregate  = NewCodeError(TrackingAggregateFail, "tracking state aggregation failed")
	ErrInvariantViolation = NewCodeError(InvariantViolation, "invariant violation")
)

func New(msg string) error { return errors.New(msg) }

func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}
