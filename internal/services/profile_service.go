// Package services – ProfileService
//
// This file implements ProfileService, which manages household members. It
// normalizes display names, paginates listings, and merges profile copies
// pushed by a paired device using last-write-wins.
package services

import (
	"context"
	"errors"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/syncmerge"
)

// ProfileRepo defines the repository contract required by ProfileService.
type ProfileRepo interface {
	// CreateProfile inserts a new profile.
	CreateProfile(ctx context.Context, db *gorm.DB, displayName, avatarColor string) (*domain.Profile, error)

	// GetProfile fetches a profile by ID.
	GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error)

	// CountProfiles returns the total number of profiles for pagination.
	CountProfiles(ctx context.Context, db *gorm.DB) (int64, error)

	// ListProfilesPage returns a page of profiles.
	ListProfilesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Profile, error)

	// UpdateProfile changes name and color.
	UpdateProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarColor string) error

	// SaveProfile writes a full profile as-is.
	SaveProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error

	// DeleteProfile removes a profile and everything it owns.
	DeleteProfile(ctx context.Context, db *gorm.DB, id string) error
}

// DefaultAvatarColor is used when a profile is created without a color.
const DefaultAvatarColor = "#4F46E5"

var hexColorRE = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ProfileService provides profile CRUD and sync merging.
type ProfileService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the profile repository used by this service.
	Repo ProfileRepo

	// NameMaxLen caps display names by rune length.
	NameMaxLen int
	// NameLocale drives word capitalisation of display names.
	NameLocale language.Tag
}

// NewProfileService constructs a ProfileService with default name rules.
func NewProfileService(db *gorm.DB, r ProfileRepo) *ProfileService {
	return &ProfileService{
		DB:         db,
		Repo:       r,
		NameMaxLen: 120,
		NameLocale: language.Und,
	}
}

// Create inserts a profile. A blank or malformed color falls back to
// DefaultAvatarColor.
func (s *ProfileService) Create(ctx context.Context, displayName, avatarColor string) (*domain.Profile, error) {
	ctx, span := otel.Tracer("services/ProfileService").Start(ctx, "Create")
	defer span.End()

	name, err := s.name(displayName)
	if err != nil {
		return nil, err
	}
	return s.Repo.CreateProfile(ctx, s.DB, name, color(avatarColor))
}

// Get returns a profile or ErrProfileNotFound.
func (s *ProfileService) Get(ctx context.Context, id string) (*domain.Profile, error) {
	p, err := s.Repo.GetProfile(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// ListPage returns a page of profiles and the total count.
func (s *ProfileService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Profile, int64, error) {
	offset, limit := pageBounds(page, pageSize)

	total, err := s.Repo.CountProfiles(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Profile{}, 0, nil
	}
	items, err := s.Repo.ListProfilesPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// Update renames and recolors a profile.
func (s *ProfileService) Update(ctx context.Context, id, displayName, avatarColor string) (*domain.Profile, error) {
	name, err := s.name(displayName)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateProfile(ctx, s.DB, id, name, color(avatarColor)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a profile; medications, schedules, logs and metrics go with it.
func (s *ProfileService) Delete(ctx context.Context, id string) error {
	err := s.Repo.DeleteProfile(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrProfileNotFound
	}
	return err
}

// Merge reconciles a profile pushed by another device with the local copy.
// The newer UpdatedAt wins; on a tie the local copy is kept.
func (s *ProfileService) Merge(ctx context.Context, remote domain.Profile) (syncmerge.Resolution[domain.Profile], error) {
	ctx, span := otel.Tracer("services/ProfileService").Start(ctx, "Merge",
		trace.WithAttributes(attribute.String("profile.id", remote.ID)),
	)
	defer span.End()

	var res syncmerge.Resolution[domain.Profile]
	if remote.ID == "" {
		return res, ErrProfileNotFound
	}
	local, err := s.Repo.GetProfile(ctx, s.DB, remote.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		res = syncmerge.Resolution[domain.Profile]{Value: remote, Winner: syncmerge.Remote}
	case err != nil:
		return res, err
	default:
		res = syncmerge.Resolve(*local, remote)
	}
	if !res.RemoteWon() {
		return res, nil
	}
	v := res.Value
	if err := s.Repo.SaveProfile(ctx, s.DB, &v); err != nil {
		return res, err
	}
	return res, nil
}

func (s *ProfileService) name(in string) (string, error) {
	n, err := checkName(in, s.NameMaxLen)
	if err != nil {
		return "", err
	}
	return titleName(n, s.NameLocale), nil
}

func color(c string) string {
	if hexColorRE.MatchString(c) {
		return c
	}
	return DefaultAvatarColor
}
