package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// 错误码
const (
	BadRequest          = 1001 // missing user/to/message/session
	UserUnavailable     = 1002 // destination unknown locally and remotely
	MalformedPayload    = 1003 // POST body is not JSON
	ProtocolFrame       = 2001 // bad bytes on the internal link
	LinkClosed          = 2002 // write to a neighbour that went away
	ServerInternalError = 5000
)

var (
	ErrBadRequest       = NewCodeError(BadRequest, "fail")
	ErrUserUnavailable  = NewCodeError(UserUnavailable, "user_unavailable")
	ErrMalformedPayload = NewCodeError(MalformedPayload, "fail")
	ErrProtocolFrame    = NewCodeError(ProtocolFrame, "protocol frame error")
	ErrLinkClosed       = NewCodeError(LinkClosed, "link closed")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

// CodeError carries the relay error kind. Msg doubles as the JSON status
// written back to HTTP clients.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e CodeError) Wrap() error {
	return pkgerrors.WithStack(e)
}

func (e CodeError) WrapMsg(msg string, kv ...any) error {
	if msg != "" || len(kv) > 0 {
		e = e.WithDetail(toString(msg, kv))
	}
	return pkgerrors.WithStack(e)
}

// Is matches any error carrying the same code, wrapped or not.
func (e CodeError) Is(err error) bool {
	var other CodeError
	if !errors.As(err, &other) {
		return false
	}
	return e.Code == other.Code
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Code extracts the CodeError from err, or ServerInternalError.
func Code(err error) CodeError {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCodeError(ServerInternalError, "fail").WithDetail(fmt.Sprint(err))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
