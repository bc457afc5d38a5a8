package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/syncmerge"
)

// ----- Fake repo -----

type fakeProfileRepo struct {
	createName  string
	createColor string

	getID      string
	getProfile *domain.Profile
	getErr     error

	countTotal int64
	countErr   error

	pageOffset int
	pageLimit  int
	pageItems  []domain.Profile
	pageErr    error

	updateID    string
	updateName  string
	updateColor string
	updateErr   error

	saved   *domain.Profile
	saveErr error

	deleteID  string
	deleteErr error
}

func (r *fakeProfileRepo) CreateProfile(ctx context.Context, db *gorm.DB, displayName, avatarColor string) (*domain.Profile, error) {
	r.createName, r.createColor = displayName, avatarColor
	return &domain.Profile{ID: "p1", DisplayName: displayName, AvatarColor: avatarColor}, nil
}

func (r *fakeProfileRepo) GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	r.getID = id
	return r.getProfile, r.getErr
}

func (r *fakeProfileRepo) CountProfiles(ctx context.Context, db *gorm.DB) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeProfileRepo) ListProfilesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Profile, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

func (r *fakeProfileRepo) UpdateProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarColor string) error {
	r.updateID, r.updateName, r.updateColor = id, displayName, avatarColor
	return r.updateErr
}

func (r *fakeProfileRepo) SaveProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	cp := *p
	r.saved = &cp
	return r.saveErr
}

func (r *fakeProfileRepo) DeleteProfile(ctx context.Context, db *gorm.DB, id string) error {
	r.deleteID = id
	return r.deleteErr
}

// ----- Tests -----

func TestProfileService_Create_NormalizesNameAndColor(t *testing.T) {
	r := &fakeProfileRepo{}
	s := NewProfileService(nil, r)

	p, err := s.Create(context.Background(), "  ana   maria\t", "not-a-color")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.createName != "Ana Maria" {
		t.Fatalf("want normalized name, got %q", r.createName)
	}
	if r.createColor != DefaultAvatarColor || p.AvatarColor != DefaultAvatarColor {
		t.Fatalf("want default color, got %q", r.createColor)
	}

	if _, err := s.Create(context.Background(), "Leo", "#10b981"); err != nil || r.createColor != "#10b981" {
		t.Fatalf("valid color dropped: %q err=%v", r.createColor, err)
	}
}

func TestProfileService_Create_RejectsBadNames(t *testing.T) {
	s := NewProfileService(nil, &fakeProfileRepo{})
	if _, err := s.Create(context.Background(), " \t ", ""); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("want ErrEmptyName, got %v", err)
	}
	if _, err := s.Create(context.Background(), strings.Repeat("é", 121), ""); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("want ErrNameTooLong, got %v", err)
	}
}

func TestProfileService_Get_MapsNotFound(t *testing.T) {
	r := &fakeProfileRepo{getErr: gorm.ErrRecordNotFound}
	s := NewProfileService(nil, r)
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("want ErrProfileNotFound, got %v", err)
	}
	if r.getID != "x" {
		t.Fatalf("repo got id %q", r.getID)
	}
}

func TestProfileService_ListPage(t *testing.T) {
	r := &fakeProfileRepo{countTotal: 45, pageItems: []domain.Profile{{ID: "a"}, {ID: "b"}}}
	s := NewProfileService(nil, r)

	items, total, err := s.ListPage(context.Background(), 3, 10)
	if err != nil || total != 45 || len(items) != 2 {
		t.Fatalf("items=%v total=%d err=%v", items, total, err)
	}
	if r.pageOffset != 20 || r.pageLimit != 10 {
		t.Fatalf("offset=%d limit=%d", r.pageOffset, r.pageLimit)
	}

	// Defaults kick in for nonsense paging.
	if _, _, _ = s.ListPage(context.Background(), 0, 0); r.pageOffset != 0 || r.pageLimit != 20 {
		t.Fatalf("defaults: offset=%d limit=%d", r.pageOffset, r.pageLimit)
	}

	empty := &fakeProfileRepo{}
	items, total, err = NewProfileService(nil, empty).ListPage(context.Background(), 1, 10)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty: items=%v total=%d err=%v", items, total, err)
	}

	boom := errors.New("boom")
	if _, _, err := NewProfileService(nil, &fakeProfileRepo{countErr: boom}).ListPage(context.Background(), 1, 10); !errors.Is(err, boom) {
		t.Fatalf("count error not propagated: %v", err)
	}
}

func TestProfileService_UpdateAndDelete(t *testing.T) {
	r := &fakeProfileRepo{getProfile: &domain.Profile{ID: "p1", DisplayName: "Leo"}}
	s := NewProfileService(nil, r)

	if _, err := s.Update(context.Background(), "p1", "leo", "#000000"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.updateID != "p1" || r.updateName != "Leo" || r.updateColor != "#000000" {
		t.Fatalf("update args: %+v", r)
	}

	r.updateErr = gorm.ErrRecordNotFound
	if _, err := s.Update(context.Background(), "p1", "leo", ""); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("want ErrProfileNotFound, got %v", err)
	}

	if err := s.Delete(context.Background(), "p1"); err != nil || r.deleteID != "p1" {
		t.Fatalf("delete: id=%q err=%v", r.deleteID, err)
	}
	r.deleteErr = gorm.ErrRecordNotFound
	if err := s.Delete(context.Background(), "p1"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("want ErrProfileNotFound, got %v", err)
	}
}

func TestProfileService_Merge(t *testing.T) {
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	local := &domain.Profile{ID: "p1", DisplayName: "Local", UpdatedAt: base}

	cases := []struct {
		name      string
		remoteAt  time.Time
		wantWin   syncmerge.Winner
		wantSaved bool
	}{
		{"newer remote wins", base.Add(time.Second), syncmerge.Remote, true},
		{"older remote loses", base.Add(-time.Second), syncmerge.Local, false},
		{"tie keeps local", base, syncmerge.Local, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeProfileRepo{getProfile: local}
			s := NewProfileService(nil, r)
			res, err := s.Merge(context.Background(), domain.Profile{ID: "p1", DisplayName: "Remote", UpdatedAt: tc.remoteAt})
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
			if res.Winner != tc.wantWin {
				t.Fatalf("winner=%s want %s", res.Winner, tc.wantWin)
			}
			if (r.saved != nil) != tc.wantSaved {
				t.Fatalf("saved=%v want %v", r.saved, tc.wantSaved)
			}
		})
	}

	r := &fakeProfileRepo{getErr: gorm.ErrRecordNotFound}
	res, err := NewProfileService(nil, r).Merge(context.Background(), domain.Profile{ID: "p9", DisplayName: "New"})
	if err != nil || !res.RemoteWon() || r.saved == nil || r.saved.ID != "p9" {
		t.Fatalf("unknown profile: res=%+v saved=%v err=%v", res, r.saved, err)
	}

	if _, err := NewProfileService(nil, &fakeProfileRepo{}).Merge(context.Background(), domain.Profile{}); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("blank id: %v", err)
	}
}
