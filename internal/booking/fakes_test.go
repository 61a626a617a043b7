package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/repo"
)

// memClinic — Clinic в памяти. Записи внутри MemoryTxManager
// применяются при фиксации транзакции.
type memClinic struct {
	mu            sync.Mutex
	psychologists map[uuid.UUID]domain.Psychologist
	patients      map[uuid.UUID]domain.Patient
	appointments  map[uuid.UUID]domain.Appointment

	// err возвращается всеми операциями, если задан.
	err error
}

func newMemClinic() *memClinic {
	return &memClinic{
		psychologists: make(map[uuid.UUID]domain.Psychologist),
		patients:      make(map[uuid.UUID]domain.Patient),
		appointments:  make(map[uuid.UUID]domain.Appointment),
	}
}

func (c *memClinic) addPsychologist(p domain.Psychologist) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.psychologists[p.ID] = p
}

func (c *memClinic) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *memClinic) GetPsychologist(_ context.Context, id uuid.UUID) (*domain.Psychologist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.psychologists[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (c *memClinic) GetPatient(_ context.Context, id uuid.UUID) (*domain.Patient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.patients[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (c *memClinic) UpsertPatient(ctx context.Context, p *domain.Patient) (*domain.Patient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	for _, existing := range c.patients {
		if existing.Email == p.Email {
			existing.Name = p.Name
			existing.Phone = p.Phone
			c.patients[existing.ID] = existing
			return &existing, nil
		}
	}
	cp := *p
	c.patients[cp.ID] = cp
	return &cp, nil
}

func (c *memClinic) HasConflict(_ context.Context, psychologistID uuid.UUID, start time.Time, d time.Duration, excludeID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	for _, a := range c.appointments {
		if a.ID == excludeID || a.PsychologistID != psychologistID || a.Status != domain.AppointmentStatusConfirmed {
			continue
		}
		if a.Overlaps(start, d) {
			return true, nil
		}
	}
	return false, nil
}

func (c *memClinic) CreateAppointment(ctx context.Context, a *domain.Appointment) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if _, ok := c.appointments[a.ID]; ok {
		return false, nil
	}
	for _, other := range c.appointments {
		if other.PsychologistID == a.PsychologistID && other.ScheduledAt.Equal(a.ScheduledAt) &&
			other.Status == domain.AppointmentStatusConfirmed {
			return false, repo.ErrAlreadyExists
		}
	}

	cp := *a
	repo.Enlist(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.appointments[cp.ID] = cp
	})
	return true, nil
}

func (c *memClinic) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	a, ok := c.appointments[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &a, nil
}

func (c *memClinic) UpdateAppointmentStatus(ctx context.Context, a *domain.Appointment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	existing, ok := c.appointments[a.ID]
	if !ok || existing.Version != a.Version-1 {
		return repo.ErrInvalidState
	}

	cp := *a
	repo.Enlist(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.appointments[cp.ID] = cp
	})
	return nil
}

func (c *memClinic) appointmentList() []domain.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Appointment, 0, len(c.appointments))
	for _, a := range c.appointments {
		out = append(out, a)
	}
	return out
}

// fakeNotifier падает первые failures вызовов.
type fakeNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []mq.Notification
}

var errNotifierDown = errors.New("smtp relay unavailable")

func (n *fakeNotifier) PublishNotification(_ context.Context, msg mq.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failures != 0 {
		if n.failures > 0 {
			n.failures--
		}
		return errNotifierDown
	}
	n.sent = append(n.sent, msg)
	return nil
}

// failAlways переводит notifier в режим постоянных отказов (failures < 0).
func (n *fakeNotifier) failAlways() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = -1
}

func (n *fakeNotifier) heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = 0
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
