package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"callwatch/internal/events"
)

// Apply writes one bus event to the ledger. Unknown events are ignored.
func (s *Store) Apply(ctx context.Context, ev any) error {
	switch e := ev.(type) {
	case events.CallStarted:
		return s.InsertCall(ctx, e.CallID, e.Number, e.Country, e.At)
	case events.CallCompleted:
		return s.MarkCompleted(ctx, e.CallID, e.At)
	case events.CallProcessed:
		var otp, errMsg *string
		if e.OTP != "" {
			otp = &e.OTP
		}
		if e.Err != "" {
			errMsg = &e.Err
		}
		return s.MarkProcessed(ctx, e.CallID, e.Outcome, e.Bytes, otp, errMsg, e.At)
	case events.StateChanged:
		return s.AppendEvent(ctx, e.RunID, "state", e.From+"->"+e.To, e.At)
	case events.RefreshDone:
		return s.AppendEvent(ctx, e.RunID, "refresh", fmt.Sprintf("ok=%t next=%s", e.OK, e.Next), e.At)
	case events.ChallengeSeen:
		return s.AppendEvent(ctx, e.RunID, "challenge", e.Outcome, e.At)
	}
	return nil
}

// Consume applies events from ch until it closes or ctx is done.
func (s *Store) Consume(ctx context.Context, ch <-chan any, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Apply(ctx, ev); err != nil {
				log.Warnw("ledger write failed", "event", fmt.Sprintf("%T", ev), "err", err)
			}
		}
	}
}
