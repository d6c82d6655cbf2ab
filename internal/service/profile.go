package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/profile"
	"github.com/louisbranch/gametable/internal/realtime"
	"github.com/louisbranch/gametable/internal/storage"
)

// ProfileService exposes per-user profiles. Stat counters are owned by the
// game finish pipeline and only ever move through delta ops; this service
// reads them and manages the presentational fields.
type ProfileService struct {
	store  storage.Store
	broker realtime.Broker
}

// NewProfileService creates a profile service.
func NewProfileService(store storage.Store, broker realtime.Broker) *ProfileService {
	return &ProfileService{store: store, broker: broker}
}

// Get returns one user's profile.
func (s *ProfileService) Get(ctx context.Context, userID string) (profile.Profile, error) {
	rec, err := s.store.Get(ctx, storage.TableProfiles, userID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return profile.Profile{}, errors.WithMetadata(errors.CodeNotFound, "profile not found",
				map[string]string{"userId": userID})
		}
		return profile.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return decodeProfile(rec)
}

// GetMany returns the profiles for the given user ids, skipping users who
// have none yet.
func (s *ProfileService) GetMany(ctx context.Context, userIDs []string) ([]profile.Profile, error) {
	recs, err := s.store.GetMany(ctx, storage.TableProfiles, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}
	profiles := make([]profile.Profile, 0, len(recs))
	for _, rec := range recs {
		p, err := decodeProfile(rec)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// UpdateAvatar sets a user's avatar, creating the profile if the user has
// never finished a game. Subscribers on the profile channel get a
// profile:new_avatar event stamped with the post-commit version.
func (s *ProfileService) UpdateAvatar(ctx context.Context, userID, avatarURL string) (profile.Profile, error) {
	var p profile.Profile
	rec, err := s.store.Get(ctx, storage.TableProfiles, userID)
	switch {
	case err == nil:
		if p, err = decodeProfile(rec); err != nil {
			return profile.Profile{}, err
		}
	case stderrors.Is(err, storage.ErrNotFound):
		p = profile.Profile{UserID: userID}
	default:
		return profile.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	p.AvatarURL = avatarURL
	data, err := json.Marshal(p)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("marshal profile: %w", err)
	}

	var updated storage.Record
	if p.Version == 0 {
		updated, err = s.store.Insert(ctx, storage.TableProfiles, userID, data)
	} else {
		updated, err = s.store.Update(ctx, storage.TableProfiles, userID, p.Version, data)
	}
	if err != nil {
		if stderrors.Is(err, storage.ErrVersionConflict) {
			return profile.Profile{}, errors.Wrap(errors.CodeVersionConflict,
				"profile changed, retry", err)
		}
		return profile.Profile{}, errors.Wrap(errors.CodeCommitFailed, "update avatar", err)
	}
	p.Version = updated.Version
	p.CreatedAt = updated.CreatedAt
	p.UpdatedAt = updated.UpdatedAt

	publish(ctx, s.broker, realtime.ProfileChannel(userID), realtime.EventProfileNewAvatar, p.Version,
		map[string]string{"userId": userID, "avatarUrl": avatarURL})
	return p, nil
}

// decodeProfile unmarshals a profile record. Records created by stat deltas
// hold counters only, so the user id is restored from the record key.
func decodeProfile(rec storage.Record) (profile.Profile, error) {
	var p profile.Profile
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return profile.Profile{}, fmt.Errorf("unmarshal profile %s: %w", rec.ID, err)
	}
	p.ID = rec.ID
	p.UserID = rec.ID
	p.Version = rec.Version
	p.CreatedAt = rec.CreatedAt
	p.UpdatedAt = rec.UpdatedAt
	return p, nil
}
