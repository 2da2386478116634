// Copyright 2024 The Tekagg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/spirit-labs/tekagg/logger"
)

type ErrorCode int

const (
	ParseError = iota + 1000
	NotFound
	RuntimeError
	Unavailable          = iota + 2000
	InvalidConfiguration = iota + 3000
	InternalError        = iota + 5000
)

func (c ErrorCode) String() string {
	switch c {
	case ParseError:
		return "ParseError"
	case NotFound:
		return "NotFound"
	case RuntimeError:
		return "RuntimeError"
	case Unavailable:
		return "Unavailable"
	case InvalidConfiguration:
		return "InvalidConfiguration"
	case InternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// NewInternalError logs err with a fresh reference and returns an error which only exposes that reference.
func NewInternalError(err error) TekaggError {
	ref := uuid.New().String()
	logger.Errorf("internal error occurred with reference %s: %+v", ref, err)
	return NewTekaggErrorf(InternalError, "internal error - reference: %s please consult server logs for details", ref)
}

func NewInvalidConfigurationError(msg string) TekaggError {
	return NewTekaggErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func NewTekaggErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) TekaggError {
	msg := fmt.Sprintf(msgFormat, args...)
	return TekaggError{Code: errorCode, Msg: msg}
}

func NewTekaggError(errorCode ErrorCode, msg string) TekaggError {
	return TekaggError{Code: errorCode, Msg: msg}
}

func NewParseError(msg string) error {
	return NewTekaggError(ParseError, msg)
}

func NewParseErrorf(msg string, args ...interface{}) error {
	return NewTekaggErrorf(ParseError, msg, args...)
}

func NewNotFoundErrorf(msg string, args ...interface{}) error {
	return NewTekaggErrorf(NotFound, msg, args...)
}

func NewRuntimeErrorf(msg string, args ...interface{}) error {
	return NewTekaggErrorf(RuntimeError, msg, args...)
}

func NewUnavailableErrorf(msg string, args ...interface{}) error {
	return NewTekaggErrorf(Unavailable, msg, args...)
}

// TekaggError is an error which carries a code that survives crossing process boundaries.
type TekaggError struct {
	Code ErrorCode
	Msg  string
}

func (u TekaggError) Error() string {
	return u.Msg
}

// IsTekaggErrorWithCode returns true if err, or anything it wraps, is a TekaggError with the given code.
func IsTekaggErrorWithCode(err error, code ErrorCode) bool {
	var terr TekaggError
	if As(err, &terr) {
		return terr.Code == code
	}
	return false
}

func New(msg string) error {
	return pkgerrors.New(msg)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target any) bool {
	return pkgerrors.As(err, target)
}
