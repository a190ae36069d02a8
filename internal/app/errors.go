package app

import "fmt"

// DomainError is an error with a ready HTTP shape. Err, when set, is the
// underlying cause and stays reachable through errors.Is and errors.As.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code string, cause error, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: cause.Error(),
		Details: details,
		Err:     cause,
	}
}
