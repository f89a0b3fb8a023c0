package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// CustomizedError carries a trace chain, an i18n message key and an
// HTTP-style code. The retry executor classifies remote failures by code.
type CustomizedError struct {
	cause   error
	message string
	trace   []string
	wrap    error
	code    int
	data    map[string]interface{}
}

func New(trace, message string, err error) *CustomizedError {
	return &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		code:    http.StatusInternalServerError,
	}
}

func Wrap(err error, trace, message string) *CustomizedError {
	ce := &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		wrap:    err,
	}
	if income, ok := err.(*CustomizedError); ok {
		ce.code = income.code
	}
	return ce
}

func Trace(trace string, err error) *CustomizedError {
	if ce, ok := err.(*CustomizedError); ok {
		ce.trace = append(ce.trace, trace)
		return ce
	}
	return Wrap(err, trace, err.Error())
}

func (e *CustomizedError) WithData(data map[string]interface{}) *CustomizedError {
	e.data = data
	return e
}

func (e *CustomizedError) Code(c int) *CustomizedError {
	e.code = c
	return e
}

func (e *CustomizedError) GetCode() int {
	return e.code
}

func (e *CustomizedError) Message() string {
	if e.message == "" && e.cause != nil {
		return e.cause.Error()
	}
	return e.message
}

func (e *CustomizedError) Unwrap() error {
	return e.wrap
}

func (e *CustomizedError) Error() string {
	otherDetails := `""`
	if ce, ok := e.wrap.(*CustomizedError); ok {
		otherDetails = ce.Error()
	} else if e.wrap != nil {
		otherDetails = fmt.Sprint("\"", e.wrap.Error(), "\"")
	}
	return fmt.Sprintf(`{"trace":"%s","code":%d,"msg":"%s","error":"%v","wrapd":%s}`, strings.Join(e.trace, "->"), e.code, e.message, e.cause, otherDetails)
}

// CodeOf reports the HTTP-style code of err, defaulting to 500 for plain
// errors.
func CodeOf(err error) int {
	if ce, ok := err.(*CustomizedError); ok {
		return ce.GetCode()
	}
	return http.StatusInternalServerError
}

// MessageOf reports the i18n message key of err, empty for plain errors.
func MessageOf(err error) string {
	if ce, ok := err.(*CustomizedError); ok {
		return ce.Message()
	}
	return ""
}

// IsPermanent reports whether err should not be retried: permission,
// not-found and state-conflict failures never succeed on a second attempt.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case http.StatusForbidden, http.StatusUnauthorized, http.StatusNotFound,
		http.StatusConflict, http.StatusGone:
		return true
	}
	return false
}
