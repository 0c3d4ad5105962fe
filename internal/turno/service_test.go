package turno

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository for service tests. WithTx is a plain
// pass-through since there is nothing transactional to isolate.
type memRepo struct {
	patients map[uuid.UUID]*PatientRef
	turnos   map[uuid.UUID]*Turno
	changes  []StateChange
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: make(map[uuid.UUID]*PatientRef),
		turnos:   make(map[uuid.UUID]*Turno),
	}
}

func (m *memRepo) addPatient(first, last string) uuid.UUID {
	id := uuid.New()
	m.patients[id] = &PatientRef{ID: id, FirstName: first, LastName: last}
	return id
}

func (m *memRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*PatientRef, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *memRepo) GetTurno(_ context.Context, id uuid.UUID) (*Turno, error) {
	t, ok := m.turnos[id]
	if !ok {
		return nil, ErrTurnoNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) detail(t *Turno) TurnoDetail {
	d := TurnoDetail{Turno: *t}
	if p, ok := m.patients[t.PatientID]; ok {
		d.PatientFirstName = p.FirstName
		d.PatientLastName = p.LastName
	}
	return d
}

func (m *memRepo) ListDay(_ context.Context, date time.Time) ([]TurnoDetail, error) {
	var out []TurnoDetail
	for _, t := range m.turnos {
		if DateOnly(t.Date).Equal(DateOnly(date)) {
			out = append(out, m.detail(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMin < out[j].StartMin })
	return out, nil
}

func (m *memRepo) ListRange(_ context.Context, from, to time.Time) ([]TurnoDetail, error) {
	var out []TurnoDetail
	for _, t := range m.turnos {
		d := DateOnly(t.Date)
		if t.State == StateCancelled || d.Before(DateOnly(from)) || d.After(DateOnly(to)) {
			continue
		}
		out = append(out, m.detail(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartMin < out[j].StartMin
	})
	return out, nil
}

func (m *memRepo) ListActive(_ context.Context) ([]Turno, error) {
	var out []Turno
	for _, t := range m.turnos {
		if t.State == StatePending || t.State == StateConfirmed {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRepo) CreateTurno(_ context.Context, t *Turno) error {
	cp := *t
	m.turnos[t.ID] = &cp
	return nil
}

func (m *memRepo) UpdateTurno(_ context.Context, t *Turno) error {
	if _, ok := m.turnos[t.ID]; !ok {
		return ErrTurnoNotFound
	}
	cp := *t
	m.turnos[t.ID] = &cp
	return nil
}

func (m *memRepo) UpdateTurnoState(_ context.Context, id uuid.UUID, from, to State) error {
	t, ok := m.turnos[id]
	if !ok || t.State != from {
		return ErrTurnoNotFound
	}
	t.State = to
	return nil
}

func (m *memRepo) DeleteTurno(_ context.Context, id uuid.UUID) error {
	if _, ok := m.turnos[id]; !ok {
		return ErrTurnoNotFound
	}
	delete(m.turnos, id)
	return nil
}

func (m *memRepo) InsertStateChange(_ context.Context, sc StateChange) error {
	m.changes = append(m.changes, sc)
	return nil
}

func (m *memRepo) ListStateChanges(_ context.Context, turnoID uuid.UUID) ([]StateChange, error) {
	var out []StateChange
	for _, sc := range m.changes {
		if sc.TurnoID == turnoID {
			out = append(out, sc)
		}
	}
	return out, nil
}

// fakeLocker runs the callback directly and counts acquisitions.
type fakeLocker struct {
	calls int
	fail  bool
	err   error
}

func (l *fakeLocker) WithDayLock(ctx context.Context, _ time.Time, fn func(context.Context) error) error {
	l.calls++
	if l.fail {
		return l.err
	}
	return fn(ctx)
}

func fixedNow() time.Time { return testNow }

func newTestService() (*Service, *memRepo, *fakeLocker) {
	repo := newMemRepo()
	locker := &fakeLocker{}
	return NewService(repo, locker, fixedNow), repo, locker
}

func TestServiceCreate_Defaults(t *testing.T) {
	svc, repo, locker := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	got, err := svc.Create(context.Background(), CreateParams{
		PatientID: patientID,
		Date:      day(2),
		StartMin:  9 * 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.DurationMin != DefaultDurationMin {
		t.Fatalf("expected default duration %d, got %d", DefaultDurationMin, got.DurationMin)
	}
	if got.State != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", got.State)
	}
	if locker.calls != 1 {
		t.Fatalf("expected 1 lock acquisition, got %d", locker.calls)
	}
	if _, ok := repo.turnos[got.ID]; !ok {
		t.Fatal("turno not persisted")
	}
}

func TestServiceCreate_UnknownPatient(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateParams{
		PatientID: uuid.New(),
		Date:      day(2),
		StartMin:  9 * 60,
	})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestServiceCreate_RejectsNonInitialState(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	_, err := svc.Create(context.Background(), CreateParams{
		PatientID: patientID,
		Date:      day(2),
		StartMin:  9 * 60,
		State:     StateAttended,
	})
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestServiceCreate_Conflict(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	if _, err := svc.Create(context.Background(), CreateParams{
		PatientID:   patientID,
		Date:        day(2),
		StartMin:    9 * 60,
		DurationMin: 60,
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.Create(context.Background(), CreateParams{
		PatientID: patientID,
		Date:      day(2),
		StartMin:  9*60 + 30,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflict.Collisions) != 1 || conflict.Collisions[0] != "09:00-10:00 (Ana Pérez)" {
		t.Fatalf("unexpected collisions: %v", conflict.Collisions)
	}
	if len(repo.turnos) != 1 {
		t.Fatalf("conflicting turno must not be persisted, have %d", len(repo.turnos))
	}
}

func TestServiceCreate_LockNotAcquired(t *testing.T) {
	repo := newMemRepo()
	patientID := repo.addPatient("Ana", "Pérez")
	wantErr := errors.New("lock busy")
	svc := NewService(repo, &fakeLocker{fail: true, err: wantErr}, fixedNow)

	_, err := svc.Create(context.Background(), CreateParams{
		PatientID: patientID,
		Date:      day(2),
		StartMin:  9 * 60,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func mustCreate(t *testing.T, svc *Service, patientID uuid.UUID, date time.Time, startMin int, state State) *Turno {
	t.Helper()
	got, err := svc.Create(context.Background(), CreateParams{
		PatientID: patientID,
		Date:      date,
		StartMin:  startMin,
		State:     state,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return got
}

func TestServiceEdit_MoveSlot(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)

	newStart := 11 * 60
	got, err := svc.Edit(context.Background(), created.ID, EditParams{StartMin: &newStart})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.StartMin != newStart {
		t.Fatalf("expected start %d, got %d", newStart, got.StartMin)
	}
}

func TestServiceEdit_OverlapWithItselfIsFine(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)

	// Shift by 15 minutes; the new slot overlaps only the turno's old slot.
	newStart := 9*60 + 15
	if _, err := svc.Edit(context.Background(), created.ID, EditParams{StartMin: &newStart}); err != nil {
		t.Fatalf("edit overlapping own slot: %v", err)
	}
}

func TestServiceEdit_ConflictWithOther(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	otherID := repo.addPatient("Juan", "Gómez")
	mustCreate(t, svc, otherID, day(2), 10*60, StateConfirmed)
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)

	newStart := 10*60 + 15
	_, err := svc.Edit(context.Background(), created.ID, EditParams{StartMin: &newStart})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestServiceEdit_RevalidatesSlot(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)

	sunday := day(4)
	_, err := svc.Edit(context.Background(), created.ID, EditParams{Date: &sunday})
	if !errors.Is(err, ErrSunday) {
		t.Fatalf("expected ErrSunday, got %v", err)
	}
}

func TestServiceEdit_NoteOnlySkipsValidation(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)

	note := "control anual"
	got, err := svc.Edit(context.Background(), created.ID, EditParams{Note: &note})
	if err != nil {
		t.Fatalf("edit note: %v", err)
	}
	if got.Note == nil || *got.Note != note {
		t.Fatalf("note not updated: %v", got.Note)
	}
}

func TestServiceEdit_TerminalStateRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StateConfirmed)
	if _, err := svc.Transition(context.Background(), created.ID, StateCancelled, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	newStart := 11 * 60
	_, err := svc.Edit(context.Background(), created.ID, EditParams{StartMin: &newStart})
	var final *FinalStateError
	if !errors.As(err, &final) {
		t.Fatalf("expected FinalStateError, got %v", err)
	}
}

func TestServiceTransition_WritesOneAuditRow(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StatePending)

	got, err := svc.Transition(context.Background(), created.ID, StateConfirmed, "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.State != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", got.State)
	}

	changes, err := svc.History(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly 1 audit row, got %d", len(changes))
	}
	sc := changes[0]
	if sc.PrevState != StatePending || sc.NextState != StateConfirmed {
		t.Fatalf("unexpected audit row: %+v", sc)
	}
	if sc.Reason != "Cambio a Confirmado" {
		t.Fatalf("expected default reason, got %q", sc.Reason)
	}
}

func TestServiceTransition_CustomReason(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")
	created := mustCreate(t, svc, patientID, day(2), 9*60, StatePending)

	if _, err := svc.Transition(context.Background(), created.ID, StateCancelled, "pidió cancelar por teléfono"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	changes, _ := svc.History(context.Background(), created.ID)
	if len(changes) != 1 || changes[0].Reason != "pidió cancelar por teléfono" {
		t.Fatalf("unexpected audit rows: %+v", changes)
	}
}

func TestServiceTransition_Rejections(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	t.Run("unknown state", func(t *testing.T) {
		created := mustCreate(t, svc, patientID, day(2), 9*60, StatePending)
		_, err := svc.Transition(context.Background(), created.ID, State("bogus"), "")
		var invalid *InvalidStateError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidStateError, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.Transition(context.Background(), uuid.New(), StateConfirmed, "")
		if !errors.Is(err, ErrTurnoNotFound) {
			t.Fatalf("expected ErrTurnoNotFound, got %v", err)
		}
	})

	t.Run("same state", func(t *testing.T) {
		created := mustCreate(t, svc, patientID, day(2), 10*60, StateConfirmed)
		_, err := svc.Transition(context.Background(), created.ID, StateConfirmed, "")
		var same *SameStateError
		if !errors.As(err, &same) {
			t.Fatalf("expected SameStateError, got %v", err)
		}
	})

	t.Run("terminal state", func(t *testing.T) {
		created := mustCreate(t, svc, patientID, day(2), 11*60, StateConfirmed)
		if _, err := svc.Transition(context.Background(), created.ID, StateAttended, ""); err != nil {
			t.Fatalf("attend: %v", err)
		}
		_, err := svc.Transition(context.Background(), created.ID, StateCancelled, "")
		var final *FinalStateError
		if !errors.As(err, &final) {
			t.Fatalf("expected FinalStateError, got %v", err)
		}
	})

	t.Run("edge not in matrix", func(t *testing.T) {
		created := mustCreate(t, svc, patientID, day(2), 12*60, StatePending)
		_, err := svc.Transition(context.Background(), created.ID, StateAttended, "")
		var invalidTr *InvalidTransitionError
		if !errors.As(err, &invalidTr) {
			t.Fatalf("expected InvalidTransitionError, got %v", err)
		}
	})
}

func TestServiceTransition_PastDateGuard(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	// Insert directly: Create would reject a past date.
	past := &Turno{
		ID:          uuid.New(),
		PatientID:   patientID,
		Date:        day(-3),
		StartMin:    9 * 60,
		DurationMin: 30,
		State:       StateConfirmed,
	}
	repo.turnos[past.ID] = past

	_, err := svc.Transition(context.Background(), past.ID, StateCancelled, "")
	var guard *PastDateTransitionError
	if !errors.As(err, &guard) {
		t.Fatalf("expected PastDateTransitionError, got %v", err)
	}

	if _, err := svc.Transition(context.Background(), past.ID, StateAttended, ""); err != nil {
		t.Fatalf("past turno to attended: %v", err)
	}
}

func TestServiceDelete(t *testing.T) {
	svc, repo, _ := newTestService()
	patientID := repo.addPatient("Ana", "Pérez")

	pending := mustCreate(t, svc, patientID, day(2), 9*60, StatePending)
	if err := svc.Delete(context.Background(), pending.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, ok := repo.turnos[pending.ID]; ok {
		t.Fatal("pending turno should be gone")
	}

	confirmed := mustCreate(t, svc, patientID, day(2), 10*60, StateConfirmed)
	err := svc.Delete(context.Background(), confirmed.ID)
	var notDeletable *NotDeletableError
	if !errors.As(err, &notDeletable) {
		t.Fatalf("expected NotDeletableError, got %v", err)
	}

	if err := svc.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrTurnoNotFound) {
		t.Fatalf("expected ErrTurnoNotFound, got %v", err)
	}
}

func TestServiceHistory_UnknownTurno(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.History(context.Background(), uuid.New()); !errors.Is(err, ErrTurnoNotFound) {
		t.Fatalf("expected ErrTurnoNotFound, got %v", err)
	}
}
