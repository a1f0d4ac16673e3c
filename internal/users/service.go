package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the token subject did not contain a usable
// identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves external token subjects to canonical numeric user ids,
// provisioning an account row on first sight.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// ResolveUserID returns the numeric user id for the provided token subject.
// Subjects of the form "provider:subject" keep their provider; bare subjects
// fall under the default provider. A new account is created when the
// provider+subject pair has not been seen before.
func (s *Service) ResolveUserID(rawSubject string) (int64, error) {
	provider, subject := splitSubject(rawSubject)
	if subject == "" {
		return 0, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedID, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cachedID.(int64); ok {
			return userID, nil
		}
	}

	var account Account
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = Account{
			Provider:   provider,
			Subject:    subject,
			LastSeenAt: s.now(),
		}
		if err := s.db.Create(&account).Error; err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	} else {
		_ = s.db.Model(&Account{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Update("last_seen_at", s.now()).
			Error
	}

	s.cache.Store(cacheKey, account.ID)
	return account.ID, nil
}

func splitSubject(raw string) (string, string) {
	provider := "default"
	subject := normalize(raw)

	if strings.Contains(subject, ":") {
		segments := strings.SplitN(subject, ":", 2)
		if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
			provider = normalize(segments[0])
			subject = normalize(segments[1])
		}
	}

	return provider, subject
}
