package agenda

import (
	"context"
	"fmt"
	"time"

	"github.com/consultorio/clinic-scheduling/internal/turno"
)

// Service loads a week of turnos and renders the grid projection.
type Service struct {
	repo turno.Repository
}

func NewService(repo turno.Repository) *Service {
	return &Service{repo: repo}
}

// Week renders the week containing anchor. The store query spans Monday to
// Sunday and excludes cancelled turnos; missed ones stay visible as bookings
// that went unattended.
func (s *Service) Week(ctx context.Context, anchor time.Time) (Week, error) {
	monday := MondayOf(anchor)
	turnos, err := s.repo.ListRange(ctx, monday, monday.AddDate(0, 0, 6))
	if err != nil {
		return Week{}, fmt.Errorf("load week turnos: %w", err)
	}
	return RenderWeek(anchor, turnos), nil
}
