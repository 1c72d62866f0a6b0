package session

import "errors"

// ErrSessionClosed rejects operations on a terminated session.
var ErrSessionClosed = errors.New("session is closed")
