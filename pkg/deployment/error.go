package deployment

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation           ErrorKind = "ValidationError"
	KindBuild                ErrorKind = "BuildError"
	KindDeploy               ErrorKind = "DeployError"
	KindVerificationTimeout  ErrorKind = "VerificationTimeout"
	KindUnsupportedPlatform  ErrorKind = "UnsupportedPlatform"
	KindDuplicateEnvironment ErrorKind = "DuplicateEnvironment"
	KindPlatformUnreachable  ErrorKind = "PlatformUnreachable"
	KindNotFound             ErrorKind = "NotFound"
	KindCancelled            ErrorKind = "Cancelled"
	KindInternal             ErrorKind = "InternalError"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (err *Error) Error() string {
	return err.Err.Error()
}

func (err *Error) Unwrap() error {
	return err.Err
}

func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}

func ErrorWrap(kind ErrorKind, err error) *Error {
	return &Error{
		Kind: kind,
		Err:  err,
	}
}

// KindOf returns the kind of the outermost *Error in the chain.
// Errors outside the taxonomy are internal errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}
	return e.Kind
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
