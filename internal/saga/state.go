package saga

import (
	"maps"
	"slices"
	"time"
)

// Status — статус выполнения saga.
//
// Жизненный цикл:
//
//	PENDING → IN_PROGRESS → COMPLETED
//	                      ↘ COMPENSATING → COMPENSATED
//	                      ↘ FAILED (ни один шаг не был начат)
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus парсит строку в Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted,
		StatusCompensating, StatusCompensated, StatusFailed:
		return Status(s), true
	default:
		return "", false
	}
}

// Context — данные одного выполнения saga.
//
// Изменяется только оркестратором в горутине, которая запустила saga.
type Context struct {
	SagaID string `json:"saga_id"`

	// Data — общие данные шагов. Результат шага кладётся под его ID.
	Data map[string]any `json:"data"`

	// CompletedSteps — ID успешно выполненных шагов в порядке выполнения.
	CompletedSteps []string `json:"completed_steps"`

	CurrentStep string `json:"current_step,omitempty"`

	// RetryCount — суммарное число повторов шагов.
	RetryCount int `json:"retry_count"`
}

// Get возвращает значение из Data.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Data[key]
	return v, ok
}

// Set записывает значение в Data.
func (c *Context) Set(key string, value any) {
	if c.Data == nil {
		c.Data = make(map[string]any)
	}
	c.Data[key] = value
}

// GetString возвращает строковое значение из Data.
func (c *Context) GetString(key string) string {
	v, _ := c.Data[key].(string)
	return v
}

func (c *Context) clone() *Context {
	if c == nil {
		return nil
	}
	return &Context{
		SagaID:         c.SagaID,
		Data:           maps.Clone(c.Data),
		CompletedSteps: slices.Clone(c.CompletedSteps),
		CurrentStep:    c.CurrentStep,
		RetryCount:     c.RetryCount,
	}
}

// StepStatus — итог отдельного шага.
type StepStatus string

const (
	StepCompleted          StepStatus = "COMPLETED"
	StepFailed             StepStatus = "FAILED"
	StepCompensated        StepStatus = "COMPENSATED"
	StepCompensationFailed StepStatus = "COMPENSATION_FAILED"
)

// StepRecord — журнал выполнения шага.
type StepRecord struct {
	StepID   string     `json:"step_id"`
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// Execution — состояние одного выполнения saga.
type Execution struct {
	SagaID           string     `json:"saga_id"`
	Name             string     `json:"name"`
	Status           Status     `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	Context          *Context   `json:"context"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Error            string     `json:"error,omitempty"`

	Steps []StepRecord `json:"steps,omitempty"`
}

// Clone возвращает независимую копию для хранилища и читателей.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.Context = e.Context.clone()
	cp.Steps = slices.Clone(e.Steps)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (e *Execution) record(stepID string) *StepRecord {
	for i := range e.Steps {
		if e.Steps[i].StepID == stepID {
			return &e.Steps[i]
		}
	}
	e.Steps = append(e.Steps, StepRecord{StepID: stepID})
	return &e.Steps[len(e.Steps)-1]
}
