package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrConfiguration is returned when required settings or credentials are missing.
	// It is fatal for the operation that hits it.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvisioning is returned when a target workspace or project could not be resolved or created.
	ErrProvisioning = errors.New("provisioning error")
	// ErrConflict is returned when a resource changed since it was read.
	ErrConflict = errors.New("conflict")
	// ErrDispatch is returned when a job start request could not be delivered to the worker service.
	ErrDispatch = errors.New("dispatch error")
)
