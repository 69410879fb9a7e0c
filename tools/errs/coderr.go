package errs

import "fmt"

// CodeError carries a stable numeric code alongside a human message,
// used as the JSON error body of the HTTP layer.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("code=%d msg=%s", e.Code, e.Msg)
	}
	return fmt.Sprintf("code=%d msg=%s detail=%s", e.Code, e.Msg, e.Detail)
}

// WithDetail returns a copy carrying extra context; the receiver is not mutated
// so package-level sentinels stay clean.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Shared error vocabulary of the route layer.
var (
	ErrBadRequest   = New(1001, "bad request")
	ErrUnauthorized = New(1002, "unauthorized")
	ErrNotFound     = New(1004, "not found")
	ErrInternal     = New(1500, "internal error")
)
