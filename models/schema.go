package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// CredentialState 凭证健康状态快照 (可选持久化)
// Key material is never stored in plaintext: rows are matched by fingerprint
// and the key value itself is AES-encrypted by the secret provider.
type CredentialState struct {
	gorm.Model
	Provider      string `gorm:"index;not null" json:"provider"`
	Fingerprint   string `gorm:"uniqueIndex;not null" json:"fingerprint"`
	EncryptedKey  string `json:"-"`
	CooldownUntil int64  `json:"cooldown_until"` // unix seconds, 0 = available
	Reason        string `json:"reason"`
	Failures      int    `json:"failures"`
	Successes     int    `json:"successes"`
	Errors        int    `json:"errors"`
}

// AttemptLog 单次上游调用记录 (审计用，严格裁剪)
type AttemptLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Provider   string    `json:"provider"`
	KeyMask    string    `json:"key"`
	Outcome    string    `json:"outcome"` // ok / rate_limited / invalid_credential / transient
	StatusCode int       `json:"status_code"`
	Duration   int64     `json:"duration_ms"`
	Message    string    `json:"message,omitempty"`
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CredentialState{},
		&AttemptLog{},
	)
}

// KeyFingerprint derives a stable, non-reversible identifier for a credential
// so persisted state can be re-attached after a restart without writing the
// raw key anywhere.
func KeyFingerprint(provider, key string) string {
	sum := sha256.Sum256([]byte(provider + ":" + key))
	return hex.EncodeToString(sum[:8])
}
