package forensic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-qms/meridian/internal/shared"
)

// ImpersonationSession is an immutable snapshot correlating every audited
// action taken while impersonating back to the real actor. Keyed by
// SessionLogID for later lookup and termination.
type ImpersonationSession struct {
	SessionLogID uuid.UUID `json:"session_log_id"`
	ActorID      int64     `json:"actor_id"`
	TargetID     int64     `json:"target_id"`
	StartedAtUTC time.Time `json:"started_at_utc"`
	Reason       string    `json:"reason"`
	Context      Context   `json:"context"`
}

// StartImpersonation builds the snapshot for an impersonation session. The
// forensic context must belong to the real actor, not the target.
func StartImpersonation(fc Context, targetID int64, reason string) (ImpersonationSession, error) {
	if targetID <= 0 {
		return ImpersonationSession{}, fmt.Errorf("forensic: impersonation target required: %w", shared.ErrValidationFailure)
	}
	if targetID == fc.ActorID {
		return ImpersonationSession{}, fmt.Errorf("forensic: cannot impersonate self: %w", shared.ErrValidationFailure)
	}
	if optional(reason) == nil {
		return ImpersonationSession{}, fmt.Errorf("forensic: impersonation reason required: %w", shared.ErrValidationFailure)
	}
	return ImpersonationSession{
		SessionLogID: uuid.New(),
		ActorID:      fc.ActorID,
		TargetID:     targetID,
		StartedAtUTC: time.Now().UTC(),
		Reason:       reason,
		Context:      fc,
	}, nil
}

// ImpersonationStore keeps live impersonation sessions in Redis so they can
// be looked up and terminated by session log id.
type ImpersonationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewImpersonationStore constructs a store with the given session lifetime.
func NewImpersonationStore(client *redis.Client, ttl time.Duration) *ImpersonationStore {
	return &ImpersonationStore{client: client, ttl: ttl}
}

// Put stores the session snapshot.
func (s *ImpersonationStore) Put(ctx context.Context, sess ImpersonationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sess.SessionLogID), data, s.ttl).Err()
}

// Get retrieves a live session by its session log id.
func (s *ImpersonationStore) Get(ctx context.Context, sessionLogID uuid.UUID) (ImpersonationSession, error) {
	data, err := s.client.Get(ctx, s.key(sessionLogID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ImpersonationSession{}, shared.ErrNotFound
		}
		return ImpersonationSession{}, err
	}
	var sess ImpersonationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return ImpersonationSession{}, err
	}
	return sess, nil
}

// Terminate removes a live session. Missing sessions are not an error.
func (s *ImpersonationStore) Terminate(ctx context.Context, sessionLogID uuid.UUID) error {
	err := s.client.Del(ctx, s.key(sessionLogID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *ImpersonationStore) key(id uuid.UUID) string {
	return "impersonation:" + id.String()
}
