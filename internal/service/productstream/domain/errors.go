package domain

import "errors"

var (
	ErrDuplicateSingleton = errors.New("filter can only be added one time")
	ErrSessionClosed      = errors.New("condition session is closed")
	ErrSessionNotFound    = errors.New("condition session not found")
	ErrHandlerNotFound    = errors.New("condition handler not found")
	ErrConditionNotFound  = errors.New("condition not active in session")
	ErrInvalidConditions  = errors.New("conditions are invalid")
	ErrConditionDeclined  = errors.New("condition handler declined to create the condition")
	ErrContainerClosed    = errors.New("condition container was closed before it was filled")

	ErrStreamNotFound     = errors.New("product stream not found")
	ErrStreamNameRequired = errors.New("product stream name is required")
	ErrStreamNameTaken    = errors.New("product stream name already exists")
)
