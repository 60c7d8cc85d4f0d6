package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InvitationSweepJobName is the name of the invitation expiry job
const InvitationSweepJobName = "invitation_sweep"

// InvitationExpirer marks overdue pending invitations as expired
type InvitationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// InvitationSweepJob expires pending invitations past their expiry date.
// Reads also expire stale invitations, so the sweep only keeps listings tidy.
type InvitationSweepJob struct {
	invitations InvitationExpirer
	logger      *zap.Logger
	timeout     time.Duration
}

func NewInvitationSweepJob(invitations InvitationExpirer, logger *zap.Logger, timeout time.Duration) *InvitationSweepJob {
	return &InvitationSweepJob{
		invitations: invitations,
		logger:      logger,
		timeout:     timeout,
	}
}

// Run executes one sweep. It is called by the scheduler.
func (j *InvitationSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	expired, err := j.invitations.ExpireStale(ctx)
	if err != nil {
		j.logger.Error("invitation sweep failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("invitation sweep completed",
		zap.Int64("expired", expired),
		zap.Duration("duration", time.Since(start)))
}

// Register adds the job to the scheduler under its name
func (j *InvitationSweepJob) Register(s *Scheduler, cronExpr string) error {
	return s.AddJob(InvitationSweepJobName, cronExpr, j.Run)
}
