package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// MembershipChannel is the NOTIFY channel fed by the premium_memberships trigger.
// The payload is the user id.
const MembershipChannel = "premium_membership_changes"

const relistenDelay = 2 * time.Second

// MembershipListener streams premium membership changes made by any process.
type MembershipListener struct {
	pool  *pgxpool.Pool
	delay time.Duration
}

// NewMembershipListener creates a listener on pool.
func NewMembershipListener(pool *pgxpool.Pool) *MembershipListener {
	return &MembershipListener{pool: pool, delay: relistenDelay}
}

// Run calls onChange with the user id of every changed membership until ctx
// is done. A dropped connection is re-acquired after a short delay.
func (l *MembershipListener) Run(ctx context.Context, onChange func(userID int64)) {
	for {
		err := l.listen(ctx, onChange)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("channel", MembershipChannel).Msg("Membership listener dropped, relistening")

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.delay):
		}
	}
}

func (l *MembershipListener) listen(ctx context.Context, onChange func(userID int64)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+MembershipChannel)
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+MembershipChannel); err != nil {
		return err
	}
	log.Info().Str("channel", MembershipChannel).Msg("Listening for membership changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		userID, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			log.Warn().Str("payload", n.Payload).Msg("Ignoring malformed membership notification")
			continue
		}
		onChange(userID)
	}
}
