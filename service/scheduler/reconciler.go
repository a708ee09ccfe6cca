package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/service/booking"
	"github.com/tutorlink/tutorlink-server/service/schedule"
)

// cronSpec fires on every half hour boundary, matching the slot grid.
const cronSpec = "0,30 * * * *"

// Reconciler sweeps active bookings whose lesson window has ended and
// settles them: one-off bookings release their slots back to the
// tutor's open availability, weekly bookings are re-armed seven days
// later.
type Reconciler struct {
	db     *gorm.DB
	logger *zap.Logger
	cron   *cron.Cron
}

func NewReconciler(db *gorm.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Start schedules the sweep on the half-hour cadence and runs one
// sweep immediately to catch up after downtime.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(cronSpec, func() {
		r.ReconcileOnce(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("booking reconciler started", zap.String("schedule", cronSpec))

	go r.ReconcileOnce(ctx, time.Now())
	return nil
}

// Stop halts the cron schedule and waits for an in-flight sweep.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("booking reconciler stopped")
}

// ReconcileOnce settles every active booking that has ended as of now.
// Each booking is settled in its own transaction; a failure on one is
// logged and does not stop the sweep.
func (r *Reconciler) ReconcileOnce(ctx context.Context, now time.Time) {
	var active []models.Booking
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("scheduled_at ASC").
		Find(&active).Error; err != nil {
		r.logger.Error("reconciler scan failed", zap.Error(err))
		return
	}

	var settled, failed int
	for i := range active {
		b := &active[i]
		if now.Before(booking.EndOf(b)) {
			continue
		}
		if err := r.settle(ctx, b, now); err != nil {
			failed++
			r.logger.Error("failed to settle booking",
				zap.Uint("booking_id", b.ID), zap.Error(err))
			continue
		}
		settled++
	}

	if settled > 0 || failed > 0 {
		r.logger.Info("reconcile sweep finished",
			zap.Int("settled", settled), zap.Int("failed", failed))
	}
}

func (r *Reconciler) settle(ctx context.Context, b *models.Booking, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guard against a concurrent cancellation: only a still
		// active booking is marked completed.
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND active = ?", b.ID, true).
			Updates(map[string]interface{}{
				"active": false,
				"status": models.BookingCompleted,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		startSlot := schedule.StartSlot(b.ScheduledAt)
		switch b.Frequency {
		case models.FrequencyWeekly:
			next := models.Booking{
				TutorID:     b.TutorID,
				StudentID:   b.StudentID,
				DayOfWeek:   b.DayOfWeek,
				ScheduledAt: b.ScheduledAt.AddDate(0, 0, 7),
				Duration:    b.Duration,
				Frequency:   b.Frequency,
				Active:      true,
				Status:      models.BookingScheduled,
			}
			return tx.Create(&next).Error
		default:
			return schedule.OpenRange(tx, b.TutorID, b.DayOfWeek, startSlot, startSlot+b.Duration)
		}
	})
}
