// Package services defines the business logic for publishing newsletter
// issues, managing subscriptions, and authenticating operators. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Publish-related errors.
var (
	// ErrEmptyTitle is returned when a publish command carries a blank title.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrReplayTimeout is returned when a duplicate command waited for the
	// original execution's outcome past the configured bound. The wait never
	// exposes an "in progress" state; exceeding it is a transient failure and
	// retrying with the same key is safe.
	ErrReplayTimeout = errors.New("timed out waiting for concurrent execution")
)

// Subscription-related errors.
var (
	// ErrInvalidEmail is returned when a subscription request carries a
	// syntactically invalid email address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrSubscriberExists is returned when the email is already registered.
	ErrSubscriberExists = errors.New("subscriber already exists")
)

// Auth-related errors.
var (
	// ErrInvalidCredentials is returned when the username is unknown or the
	// password does not match. Callers must not distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
