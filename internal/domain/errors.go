package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")
var ErrUnsupported = errors.New("unsupported operation")
var ErrInvalidURL = errors.New("invalid source url")

// Stream-level failures shared by the range stream and its callers.
var (
	ErrProtocol        = errors.New("range protocol violation")
	ErrResourceChanged = errors.New("remote resource changed")
)
