package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidClient indicates an invalid client identifier.
	ErrInvalidClient = errors.New("invalid client id")
	// ErrUnknownClient indicates no record exists for the client.
	ErrUnknownClient = errors.New("unknown client")
	// ErrNotAdmin indicates an administrative event from a non-admin session.
	ErrNotAdmin = errors.New("not authenticated")
	// ErrAdminActive indicates another session already holds admin control.
	ErrAdminActive = errors.New("admin session already active")
	// ErrInvalidCredentials indicates a bad admin password or totp code.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrGestureActive indicates a layout gesture is already in progress.
	ErrGestureActive = errors.New("gesture already active")
	// ErrNoGesture indicates no layout gesture is in progress.
	ErrNoGesture = errors.New("no gesture active")
	// ErrUnknownWidget indicates a widget id is not part of the layout.
	ErrUnknownWidget = errors.New("unknown widget")
	// ErrNoPortController indicates no data source is attached.
	ErrNoPortController = errors.New("no data source configured")
	// ErrNotConnected indicates the event channel is closed.
	ErrNotConnected = errors.New("not connected")
)
