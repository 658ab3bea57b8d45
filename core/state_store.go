package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"llm-keyring/models"
)

// StateStore 可选的凭证健康状态持久化
// Off by default: the pool is purely in-memory unless the host application
// asks for persistence across restarts. Key values are encrypted at rest and
// rows are matched by fingerprint, never by plaintext key.
type StateStore struct {
	db      *gorm.DB
	secrets SecretProvider
	logger  *logrus.Logger

	pool     *CredentialPool
	dirty    chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
	debounce time.Duration
}

func NewStateStore(db *gorm.DB, secrets SecretProvider, logger *logrus.Logger) *StateStore {
	if secrets == nil {
		secrets = NewNoOpSecretProvider()
	}
	return &StateStore{
		db:       db,
		secrets:  secrets,
		logger:   logger,
		dirty:    make(chan struct{}, 1),
		quit:     make(chan struct{}),
		debounce: 2 * time.Second,
	}
}

// Attach restores persisted state into the pool, then follows every status
// mutation with a debounced save.
func (s *StateStore) Attach(pool *CredentialPool) error {
	s.pool = pool

	snaps, err := s.load(pool)
	if err != nil {
		return err
	}
	pool.Restore(snaps)

	pool.SetOnChange(s.markDirty)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.workerLoop()
	}()
	return nil
}

func (s *StateStore) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
		// A save is already pending.
	}
}

func (s *StateStore) workerLoop() {
	for {
		select {
		case <-s.dirty:
			// Coalesce bursts of status changes into one write.
			timer := time.NewTimer(s.debounce)
			select {
			case <-timer.C:
			case <-s.quit:
				timer.Stop()
				s.save()
				return
			}
			s.save()
		case <-s.quit:
			s.save()
			return
		}
	}
}

func (s *StateStore) save() {
	if s.pool == nil {
		return
	}
	for _, snap := range s.pool.Snapshot() {
		encrypted, err := s.secrets.Encrypt(snap.Key)
		if err != nil {
			s.logger.Errorf("StateStore: encrypt failed for %s key: %v", snap.Provider, err)
			continue
		}

		var until int64
		if !snap.CooldownUntil.IsZero() {
			until = snap.CooldownUntil.Unix()
		}
		row := models.CredentialState{
			Provider:      snap.Provider,
			Fingerprint:   models.KeyFingerprint(snap.Provider, snap.Key),
			EncryptedKey:  encrypted,
			CooldownUntil: until,
			Reason:        snap.CooldownReason.String(),
			Failures:      snap.Failures,
			Successes:     snap.Successes,
			Errors:        snap.Errors,
		}

		err = s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "fingerprint"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cooldown_until", "reason", "failures", "successes", "errors", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			s.logger.Errorf("StateStore: save failed for %s: %v", row.Fingerprint, err)
		}
	}
}

// load reads persisted rows that match the pool's configured credentials.
// Keys removed from configuration leave orphan rows behind; they are pruned
// here so the table tracks the live key set.
func (s *StateStore) load(pool *CredentialPool) ([]CredentialSnapshot, error) {
	var rows []models.CredentialState
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	live := make(map[string]CredentialSnapshot)
	for _, snap := range pool.Snapshot() {
		live[models.KeyFingerprint(snap.Provider, snap.Key)] = snap
	}

	var snaps []CredentialSnapshot
	reasons := map[string]FailureKind{
		FailureRateLimited.String():       FailureRateLimited,
		FailureInvalidCredential.String(): FailureInvalidCredential,
		FailureTransient.String():         FailureTransient,
	}
	for _, row := range rows {
		snap, ok := live[row.Fingerprint]
		if !ok {
			s.db.Unscoped().Delete(&models.CredentialState{}, row.ID)
			continue
		}
		if row.CooldownUntil > 0 {
			snap.CooldownUntil = time.Unix(row.CooldownUntil, 0)
			snap.CooldownReason = reasons[row.Reason]
		}
		snap.Failures = row.Failures
		snap.Successes = row.Successes
		snap.Errors = row.Errors
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Close flushes one final save and stops the worker.
func (s *StateStore) Close() {
	close(s.quit)
	s.wg.Wait()
}
