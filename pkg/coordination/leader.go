package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"testbot/pkg/logger"
)

// ErrLeadershipLost is returned by Lead when the session expired while
// leading.
var ErrLeadershipLost = errors.New("leadership lost")

// resignTimeout bounds the resign call made on the way out.
const resignTimeout = 5 * time.Second

// Lead campaigns for the named election and runs fn while this process is
// leader. fn's context is cancelled when ctx ends or the session is lost.
// Leadership is resigned before Lead returns.
func Lead(ctx context.Context, c Coordinator, name, id string, fn func(ctx context.Context) error) error {
	log := logger.ForComponent("coordination").With(zap.String("election", name), zap.String("id", id))
	election := c.NewElection(name)

	log.Info("Campaigning for leadership")
	if err := election.Campaign(ctx, id); err != nil {
		return fmt.Errorf("campaign failed: %w", err)
	}
	log.Info("Became leader")

	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lost := make(chan struct{})
	go func() {
		select {
		case <-c.Done():
			close(lost)
			cancel()
		case <-leaderCtx.Done():
		}
	}()

	err := fn(leaderCtx)

	resignCtx, cancelResign := context.WithTimeout(context.WithoutCancel(ctx), resignTimeout)
	defer cancelResign()
	if rerr := election.Resign(resignCtx); rerr != nil {
		log.Warn("Failed to resign leadership", zap.Error(rerr))
	} else {
		log.Info("Resigned leadership")
	}

	select {
	case <-lost:
		log.Error("Session lost while leading")
		if err == nil || errors.Is(err, context.Canceled) {
			return ErrLeadershipLost
		}
	default:
	}
	return err
}
