package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/consultorio/clinic-scheduling/internal/patient"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

var convNow = time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC)

type memSessions struct {
	byIdentity map[string]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{byIdentity: make(map[string]*Session)}
}

func (m *memSessions) GetByIdentity(_ context.Context, identity string) (*Session, error) {
	s, ok := m.byIdentity[identity]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Create(_ context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.byIdentity[s.ChannelIdentity] = &cp
	return nil
}

func (m *memSessions) Update(_ context.Context, s *Session) error {
	if _, ok := m.byIdentity[s.ChannelIdentity]; !ok {
		return ErrSessionNotFound
	}
	cp := *s
	m.byIdentity[s.ChannelIdentity] = &cp
	return nil
}

func (m *memSessions) DeleteByIdentity(_ context.Context, identity string) error {
	delete(m.byIdentity, identity)
	return nil
}

func (m *memSessions) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	purged := 0
	for identity, s := range m.byIdentity {
		if s.ExpiresAt.Before(now) {
			delete(m.byIdentity, identity)
			purged++
		}
	}
	return purged, nil
}

type memDirectory struct {
	byIDNumber map[string]*patient.Patient
	createErr  error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byIDNumber: make(map[string]*patient.Patient)}
}

func (d *memDirectory) FindByIDNumber(_ context.Context, idNumber string) (*patient.Patient, error) {
	p, ok := d.byIDNumber[idNumber]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (d *memDirectory) CreateMinimal(_ context.Context, first, last, idNumber string, phone *string) (*patient.Patient, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	if _, ok := d.byIDNumber[idNumber]; ok {
		return nil, &patient.DuplicateError{IDNumber: idNumber}
	}
	p := &patient.Patient{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		IDNumber:  idNumber,
		Phone:     phone,
		BirthDate: patient.PlaceholderBirthDate,
	}
	d.byIDNumber[idNumber] = p
	return p, nil
}

type fakeScheduler struct {
	created []turno.CreateParams
	err     error
}

func (f *fakeScheduler) Create(_ context.Context, p turno.CreateParams) (*turno.Turno, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, p)
	return &turno.Turno{
		ID:          uuid.New(),
		PatientID:   p.PatientID,
		Date:        p.Date,
		StartMin:    p.StartMin,
		DurationMin: p.DurationMin,
		State:       p.State,
	}, nil
}

func newTestConversation() (*Service, *memSessions, *memDirectory, *fakeScheduler) {
	sessions := newMemSessions()
	patients := newMemDirectory()
	scheduler := &fakeScheduler{}
	svc := NewService(sessions, patients, scheduler, DefaultSessionTTL, func() time.Time { return convNow })
	return svc, sessions, patients, scheduler
}

func send(t *testing.T, svc *Service, identity, text string) Reply {
	t.Helper()
	reply, err := svc.HandleMessage(context.Background(), identity, text)
	if err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
	return reply
}

func TestDialogue_NewPatientFullBooking(t *testing.T) {
	svc, sessions, patients, scheduler := newTestConversation()
	const identity = "wa:549111234"

	reply := send(t, svc, identity, "hola, mi dni es 30.123.456")
	if reply.Step != StepAskFirstName || reply.Message != msgNoRecord {
		t.Fatalf("after id: %+v", reply)
	}

	reply = send(t, svc, identity, "Ana")
	if reply.Step != StepAskLastName {
		t.Fatalf("after first name: %+v", reply)
	}

	reply = send(t, svc, identity, "Pérez")
	if reply.Step != StepAskDate || reply.Message != msgRegistered {
		t.Fatalf("after last name: %+v", reply)
	}
	if _, err := patients.FindByIDNumber(context.Background(), "30123456"); err != nil {
		t.Fatalf("patient should be registered: %v", err)
	}

	reply = send(t, svc, identity, "2026-08-28")
	if reply.Step != StepAskTime || reply.Message != msgAskTime {
		t.Fatalf("after date: %+v", reply)
	}

	reply = send(t, svc, identity, "09:30")
	if !reply.Done || reply.Step != StepDone || reply.Message != msgBooked {
		t.Fatalf("after time: %+v", reply)
	}

	if len(scheduler.created) != 1 {
		t.Fatalf("expected exactly 1 booking, got %d", len(scheduler.created))
	}
	booked := scheduler.created[0]
	if booked.State != turno.StatePending {
		t.Fatalf("chat bookings must be pending, got %s", booked.State)
	}
	if booked.StartMin != 9*60+30 || booked.DurationMin != turno.DefaultDurationMin {
		t.Fatalf("unexpected slot: %+v", booked)
	}
	if !booked.Date.Equal(time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %s", booked.Date)
	}

	sess := sessions.byIdentity[identity]
	if sess.Step != StepDone {
		t.Fatalf("session step: %s", sess.Step)
	}
}

func TestDialogue_KnownPatientSkipsRegistration(t *testing.T) {
	svc, _, patients, scheduler := newTestConversation()
	p, err := patients.CreateMinimal(context.Background(), "Juan", "Gómez", "28111222", nil)
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	reply := send(t, svc, "wa:1", "28111222")
	if reply.Step != StepAskDate || reply.Message != msgFoundRecord {
		t.Fatalf("after id: %+v", reply)
	}

	send(t, svc, "wa:1", "2026-08-28")
	reply = send(t, svc, "wa:1", "11:00")
	if !reply.Done {
		t.Fatalf("expected done: %+v", reply)
	}
	if len(scheduler.created) != 1 || scheduler.created[0].PatientID != p.ID {
		t.Fatalf("booking not tied to existing patient: %+v", scheduler.created)
	}
}

func TestDialogue_ShortIDStaysOnStep(t *testing.T) {
	svc, sessions, _, _ := newTestConversation()

	reply := send(t, svc, "wa:1", "123")
	if reply.Step != StepAskID || reply.Message != msgNeedID {
		t.Fatalf("short id: %+v", reply)
	}
	if sessions.byIdentity["wa:1"].AttemptCount != 1 {
		t.Fatalf("attempt count: %d", sessions.byIdentity["wa:1"].AttemptCount)
	}
}

func TestDialogue_BadDateAndTimeStayOnStep(t *testing.T) {
	svc, sessions, patients, _ := newTestConversation()
	if _, err := patients.CreateMinimal(context.Background(), "Juan", "Gómez", "28111222", nil); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	send(t, svc, "wa:1", "28111222")

	reply := send(t, svc, "wa:1", "el viernes")
	if reply.Step != StepAskDate || reply.Message != msgBadDate {
		t.Fatalf("bad date: %+v", reply)
	}

	send(t, svc, "wa:1", "2026-08-28")
	reply = send(t, svc, "wa:1", "a la tarde")
	if reply.Step != StepAskTime || reply.Message != msgBadTime {
		t.Fatalf("bad time: %+v", reply)
	}
	if got := sessions.byIdentity["wa:1"].AttemptCount; got != 2 {
		t.Fatalf("attempt count: %d", got)
	}
}

func TestDialogue_DuplicatePatientStaysOnLastName(t *testing.T) {
	svc, _, patients, _ := newTestConversation()
	if _, err := patients.CreateMinimal(context.Background(), "Otra", "Persona", "30123456", nil); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	send(t, svc, "wa:1", "99999999")
	send(t, svc, "wa:1", "Ana")

	// Register under an id number someone grabbed meanwhile.
	patients.createErr = &patient.DuplicateError{IDNumber: "99999999"}
	reply := send(t, svc, "wa:1", "Pérez")
	if reply.Step != StepAskLastName {
		t.Fatalf("duplicate should stay on ask_last_name: %+v", reply)
	}
}

func TestDialogue_BookingRejectionStaysOnTime(t *testing.T) {
	svc, sessions, patients, scheduler := newTestConversation()
	if _, err := patients.CreateMinimal(context.Background(), "Juan", "Gómez", "28111222", nil); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	scheduler.err = &turno.ConflictError{Collisions: []string{"09:00-10:00 (Ana Pérez)"}}

	send(t, svc, "wa:1", "28111222")
	send(t, svc, "wa:1", "2026-08-28")
	reply := send(t, svc, "wa:1", "09:30")

	if reply.Done || reply.Step != StepAskTime {
		t.Fatalf("conflict should stay on ask_time: %+v", reply)
	}
	if sessions.byIdentity["wa:1"].AttemptCount != 1 {
		t.Fatalf("attempt count: %d", sessions.byIdentity["wa:1"].AttemptCount)
	}

	// Retry at a free slot succeeds.
	scheduler.err = nil
	reply = send(t, svc, "wa:1", "11:00")
	if !reply.Done {
		t.Fatalf("retry should complete: %+v", reply)
	}
}

func TestDialogue_InfrastructureErrorSurfaces(t *testing.T) {
	svc, _, patients, scheduler := newTestConversation()
	if _, err := patients.CreateMinimal(context.Background(), "Juan", "Gómez", "28111222", nil); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	scheduler.err = errors.New("db down")

	send(t, svc, "wa:1", "28111222")
	send(t, svc, "wa:1", "2026-08-28")
	if _, err := svc.HandleMessage(context.Background(), "wa:1", "09:30"); err == nil {
		t.Fatal("infrastructure failure must surface as an error")
	}
}

func TestDialogue_DoneStepFallsBack(t *testing.T) {
	svc, _, patients, _ := newTestConversation()
	if _, err := patients.CreateMinimal(context.Background(), "Juan", "Gómez", "28111222", nil); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	send(t, svc, "wa:1", "28111222")
	send(t, svc, "wa:1", "2026-08-28")
	send(t, svc, "wa:1", "09:30")

	reply := send(t, svc, "wa:1", "gracias")
	if reply.Message != msgFallback || !reply.Done {
		t.Fatalf("done step: %+v", reply)
	}
}

func TestReset_RestartsDialogue(t *testing.T) {
	svc, sessions, _, _ := newTestConversation()

	send(t, svc, "wa:1", "30123456")
	if err := svc.Reset(context.Background(), "wa:1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok := sessions.byIdentity["wa:1"]; ok {
		t.Fatal("session should be deleted")
	}

	reply := send(t, svc, "wa:1", "hola")
	if reply.Step != StepAskID {
		t.Fatalf("fresh session should ask for id: %+v", reply)
	}
}

func TestHandleMessage_SlidesExpiration(t *testing.T) {
	svc, sessions, _, _ := newTestConversation()

	send(t, svc, "wa:1", "hola")
	sess := sessions.byIdentity["wa:1"]
	if !sess.ExpiresAt.Equal(convNow.Add(DefaultSessionTTL)) {
		t.Fatalf("expires at: %s", sess.ExpiresAt)
	}
	if !sess.LastInteractionAt.Equal(convNow) {
		t.Fatalf("last interaction: %s", sess.LastInteractionAt)
	}
}
