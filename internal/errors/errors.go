package errors

import "errors"

var (
	ErrToolNotFound        = errors.New("azure cli not found in PATH")
	ErrNotLoggedIn         = errors.New("not logged in to azure cli")
	ErrTimeout             = errors.New("timed out waiting for environment")
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrNoCredential        = errors.New("no credential found in reset output")
	ErrMissingField        = errors.New("required field is missing")
	ErrInvalidMode         = errors.New("invalid identity mode")
	ErrPreflight           = errors.New("preflight policy check failed")
	ErrRepositoryNotFound  = errors.New("repository not found or not visible to the token")
	ErrUnauthorized        = errors.New("github token was rejected")
)
