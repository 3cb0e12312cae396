package engine

import (
	"context"
	"time"

	"agrotasks/internal/domain"
)

// MonthStats summarizes the tasks assigned to an employee and created in the
// month containing day, together with the confirmed fines of that month.
func (e Engine) MonthStats(ctx context.Context, employeeID int64, day time.Time) (domain.MonthStats, error) {
	loc := e.Config.Location()
	y, m, _ := day.Date()
	from := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0)

	counts, err := e.Repo.CountTasksByStatus(ctx, employeeID, from, to)
	if err != nil {
		return domain.MonthStats{}, e.storeError("month stats", 0, employeeID, err)
	}
	fines, err := e.Repo.SumFines(ctx, employeeID, domain.FineConfirmed, from, to)
	if err != nil {
		return domain.MonthStats{}, e.storeError("month stats", 0, employeeID, err)
	}
	stats := domain.MonthStats{
		UserID:     employeeID,
		Period:     domain.Period(from),
		ByStatus:   counts,
		FinesTotal: fines,
		Rating:     domain.Rating(counts[domain.StatusCompleted], counts[domain.StatusOverdue], fines),
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
