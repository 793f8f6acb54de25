package domain

import (
	"errors"
	"fmt"
)

// Fault kinds. Only ErrConfig is allowed to end the process; every other
// kind is handled at the nearest component boundary.
var (
	ErrConfig        = errors.New("configuration fault")
	ErrTransport     = errors.New("transport fault")
	ErrRejected      = errors.New("rejected by remote endpoint")
	ErrProtocol      = errors.New("mail protocol fault")
	ErrParse         = errors.New("malformed attachment")
	ErrNotConfigured = errors.New("channel or credential not configured")
	ErrLookupMiss    = errors.New("station or channel not registered")
)

// ParseError reports an attachment that can never be turned into an
// IncidentRecord. It matches ErrParse with errors.Is.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("parse incident: %v", e.Err)
	}
	return fmt.Sprintf("parse incident %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }
