package usecase

import (
	"context"
	"sync"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

// offlineWriteTimeout bounds the teardown write, which runs on a fresh
// context because the session context is usually already cancelled.
const offlineWriteTimeout = 5 * time.Second

type PresenceStatus struct {
	UserID     string     `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type PresenceUseCase struct {
	presenceRepo repository.PresenceRepository
	settings     Settings

	// live leases per user; only the last one to stop writes offline
	mu     sync.Mutex
	leases map[string]int
}

func NewPresenceUseCase(presenceRepo repository.PresenceRepository, settings Settings) *PresenceUseCase {
	return &PresenceUseCase{
		presenceRepo: presenceRepo,
		settings:     settings,
		leases:       make(map[string]int),
	}
}

// PresenceLease keeps a user marked online until Stop. The heartbeat and
// the offline write are released together.
type PresenceLease struct {
	uc     *PresenceUseCase
	userID string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start publishes the user as online and refreshes lastSeenAt every
// heartbeat interval until the lease is stopped.
func (uc *PresenceUseCase) Start(ctx context.Context, userID string) (*PresenceLease, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Presence requires an authenticated user")
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &PresenceLease{
		uc:     uc,
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	uc.acquire(userID)
	uc.beat(leaseCtx, userID)
	go lease.run(leaseCtx)

	logger.Info("Presence started for user %s", userID)
	return lease, nil
}

func (l *PresenceLease) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.uc.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.uc.beat(ctx, l.userID)
		}
	}
}

func (uc *PresenceUseCase) acquire(userID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.leases[userID]++
}

// release reports whether the caller held the user's last live lease.
func (uc *PresenceUseCase) release(userID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.leases[userID]--
	if uc.leases[userID] > 0 {
		return false
	}
	delete(uc.leases, userID)
	return true
}

// Stop halts the heartbeat. The offline record is written only when no
// other lease for the same user is still live. Stop is safe to call more
// than once and from every exit path of a session.
func (l *PresenceLease) Stop() {
	l.once.Do(func() {
		l.cancel()
		<-l.done

		if !l.uc.release(l.userID) {
			logger.Debug("Presence: %s still has live sessions, staying online", l.userID)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
		defer cancel()

		record := &entity.PresenceRecord{
			UserID:     l.userID,
			IsOnline:   false,
			LastSeenAt: l.uc.settings.now(),
		}
		if err := l.uc.presenceRepo.Upsert(ctx, record); err != nil {
			logger.Warn("Presence: failed to write offline record for %s: %v", l.userID, err)
			return
		}
		logger.Info("Presence stopped for user %s", l.userID)
	})
}

// beat never fails the session; the next tick retries.
func (uc *PresenceUseCase) beat(ctx context.Context, userID string) {
	record := &entity.PresenceRecord{
		UserID:     userID,
		IsOnline:   true,
		LastSeenAt: uc.settings.now(),
	}
	if err := uc.presenceRepo.Upsert(ctx, record); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Presence: heartbeat failed for %s, retrying next tick: %v", userID, err)
	}
}

func (uc *PresenceUseCase) IsOnline(ctx context.Context, userID string) (bool, error) {
	status, err := uc.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.IsOnline, nil
}

func (uc *PresenceUseCase) Status(ctx context.Context, userID string) (*PresenceStatus, error) {
	record, err := uc.presenceRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return &PresenceStatus{UserID: userID}, nil
		}
		return nil, err
	}
	status := uc.evaluate(userID, record)
	return &status, nil
}

func (uc *PresenceUseCase) evaluate(userID string, record *entity.PresenceRecord) PresenceStatus {
	status := PresenceStatus{UserID: userID}
	if record == nil {
		return status
	}
	lastSeen := record.LastSeenAt
	status.LastSeenAt = &lastSeen
	status.IsOnline = record.Online(uc.settings.now(), uc.settings.StaleAfter)
	return status
}

// presenceWatch re-evaluates the last record once it would turn stale,
// because a crashed session never writes again.
type presenceWatch struct {
	mu      sync.Mutex
	sub     repository.Subscription
	timer   *time.Timer
	stopped bool
}

func (w *presenceWatch) Stop() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.sub.Stop()
}

// Watch streams the effective presence of userID, including the
// transition to offline when heartbeats stop arriving.
func (uc *PresenceUseCase) Watch(ctx context.Context, userID string, onChange func(PresenceStatus), onError repository.ErrorHandler) (repository.Subscription, error) {
	w := &presenceWatch{}

	var emit func(record *entity.PresenceRecord)
	emit = func(record *entity.PresenceRecord) {
		status := uc.evaluate(userID, record)

		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if status.IsOnline {
			wait := record.LastSeenAt.Add(uc.settings.StaleAfter).Sub(uc.settings.now()) + time.Millisecond
			w.timer = time.AfterFunc(wait, func() { emit(record) })
		}
		w.mu.Unlock()

		onChange(status)
	}

	sub, err := uc.presenceRepo.Subscribe(ctx, userID, emit, onError)
	if err != nil {
		return nil, err
	}
	w.sub = sub
	return w, nil
}
