package tools

import "errors"

// Sentinel errors for the tools registry.
var (
	ErrEmptyName     = errors.New("tool name or toolbelt is empty")
	ErrBadLocation   = errors.New("invalid execution location")
	ErrAlreadyExists = errors.New("tool already registered")
	ErrFrozen        = errors.New("registry is frozen")
	ErrNoHandler     = errors.New("server tool requires a handler")
	ErrClientHandler = errors.New("client tool cannot have a server handler")
)
