package tools

import "errors"

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolHandlerNil is returned when a tool has no handler.
	ErrToolHandlerNil = errors.New("tool handler cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMissingHandler is returned when an agent declares a tool nobody registered.
	ErrMissingHandler = errors.New("declared tool has no handler")

	// ErrDuplicateDeclaration is returned when an agent declares a tool twice.
	ErrDuplicateDeclaration = errors.New("tool declared more than once")

	// ErrInvalidSchema is returned for a malformed tool schema.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")

	// ErrArgOutOfRange is returned when a numeric argument violates its bounds.
	ErrArgOutOfRange = errors.New("argument out of range")

	// ErrInvalidEnumValue is returned when an argument is not one of its allowed values.
	ErrInvalidEnumValue = errors.New("argument not in allowed values")
)
