package domain

import "errors"

var (
	// ErrNoSessionName is returned when a load is requested without a session name.
	// Callers present a "no data" recovery path; retrying does not help.
	ErrNoSessionName = errors.New("no session name given")
	// ErrSessionNotFound indicates the session is unknown to the API or the local store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuestionIndexOutOfRange is returned for an index outside the question list.
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
	// ErrNoSession is returned by mutations that need a loaded session.
	ErrNoSession = errors.New("no session loaded")
	// ErrNotOwner is returned when an owner-only intent is issued by an attendee.
	ErrNotOwner = errors.New("operation requires the session owner")
	// ErrEmptyRoster is returned when a quiz is started without participants.
	ErrEmptyRoster = errors.New("no participants joined")
	// ErrNotConnected is returned when publishing without an open bus connection.
	ErrNotConnected = errors.New("message bus not connected")
)
