package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen — breaker не пропускает вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrUnknownBreaker — breaker с таким именем не зарегистрирован.
var ErrUnknownBreaker = errors.New("unknown circuit breaker")

// OpenError возвращается Execute, пока breaker в состоянии OPEN.
// errors.Is(err, ErrCircuitOpen) == true.
type OpenError struct {
	Name            string
	NextAttemptTime time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.NextAttemptTime.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
