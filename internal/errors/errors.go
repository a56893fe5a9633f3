// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors defines the closed set of error kinds the RPC surface can
// return, and a small typed error carrying one of them.
package errors

import "fmt"

// Kind is the RPC-visible discriminator for a failure. It is a closed set:
// every operation response is either a success value or {"error": {"type":
// Kind, "message": text}}.
type Kind string

const (
	// KindValidation covers bad input: missing required fields, out-of-range
	// values, or an enum value outside its fixed set.
	KindValidation Kind = "validation_error"
	// KindNotFound covers a resource that does not exist.
	KindNotFound Kind = "not_found"
	// KindInsufficientData covers operations (clustering) that require a
	// minimum population the caller hasn't met yet.
	KindInsufficientData Kind = "insufficient_data"
	// KindInternal covers everything else: only unknown/unexpected failures
	// should surface this kind.
	KindInternal Kind = "internal_error"
)

// Error is the typed error carried through the core and translated to the
// RPC envelope at the transport boundary.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As keep working across the
// typed-error boundary.
func (e *Error) Unwrap() error { return e.cause }

// Validation builds a validation_error naming the offending field.
func Validation(field, reason string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// ValidationEnum builds a validation_error listing the valid options for an
// enum-typed field.
func ValidationEnum(field, got string, options []string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(
		"%s: %q is not one of the valid options %v", field, got, options)}
}

// NotFound builds a not_found error naming the missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InsufficientData builds an insufficient_data error.
func InsufficientData(message string) *Error {
	return &Error{Kind: KindInsufficientData, Message: message}
}

// Internal wraps an unexpected error as internal_error, preserving the cause
// for logging via %w.
func Internal(operation string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf("operation %q failed", operation), cause: cause}
}

// As reports whether err is (or wraps) an *Error, mirroring the stdlib
// errors.As convention so callers don't need to import both packages.
func As(err error) (*Error, bool) {
	var target *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return target, false
}

// Envelope is the JSON shape returned to RPC callers on failure.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the body of an Envelope.
type EnvelopeBody struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// ToEnvelope converts any error into the RPC failure shape. Errors that are
// not *Error are treated as internal_error without leaking their Go-level
// detail beyond the message text.
func ToEnvelope(err error) Envelope {
	if e, ok := As(err); ok {
		return Envelope{Error: EnvelopeBody{Type: e.Kind, Message: e.Message}}
	}
	return Envelope{Error: EnvelopeBody{Type: KindInternal, Message: err.Error()}}
}
