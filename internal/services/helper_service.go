package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/repo"
)

// HelperService registers caregivers that receive missed-dose
// notifications for a profile.
type HelperService struct {
	DB *gorm.DB
}

// Register pairs a helper device with a profile.
func (s *HelperService) Register(ctx context.Context, profileID, helperName, deviceID string) (*domain.HelperPairing, error) {
	name, err := checkName(helperName, 120)
	if err != nil {
		return nil, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrEmptyName
	}
	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return repo.CreateHelperPairing(ctx, s.DB, profileID, name, deviceID)
}

// List returns a profile's helper pairings.
func (s *HelperService) List(ctx context.Context, profileID string, activeOnly bool) ([]domain.HelperPairing, error) {
	if _, err := repo.GetProfile(ctx, s.DB, profileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return repo.ListHelperPairings(ctx, s.DB, profileID, activeOnly)
}

// Deactivate stops notifications to a helper.
func (s *HelperService) Deactivate(ctx context.Context, profileID, id string) error {
	err := repo.DeactivateHelperPairing(ctx, s.DB, profileID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrHelperNotFound
	}
	return err
}
