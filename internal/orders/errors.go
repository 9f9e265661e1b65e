package orders

import "errors"

// Типизированные ошибки движка. Обработчики сопоставляют их с HTTP-кодами
// через errors.Is; текст ошибки отдается вызывающей стороне как есть.
var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrValidation           = errors.New("validation failed")
	ErrConflictingAmendment = errors.New("conflicting amendment")
	ErrNotFound             = errors.New("not found")
)
