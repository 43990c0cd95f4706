package util

import "errors"

var (
	ErrCourseNotFound       = errors.New("course not found")
	ErrItemNotFound         = errors.New("item not found in course")
	ErrSessionNotFound      = errors.New("no active playback session for course")
	ErrCompletionInFlight   = errors.New("completion submission already in flight")
	ErrAuthorityUnavailable = errors.New("remote authority unavailable")
	ErrCertificateLocked    = errors.New("course not fully completed")
	ErrCertificateNotFound  = errors.New("certificate not claimed yet")
	ErrGraphUnordered       = errors.New("duplicate order_index in course structure")
)
