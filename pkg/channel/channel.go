// Package channel manages voice/text channel membership and the UDP
// clientID<->user<->endpoint registry the audio relay uses to fan out
// packets.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/crypto"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

var (
	ErrChannelFull       = errors.New("channel: server channel limit reached")
	ErrChannelNotFound   = errors.New("channel: not found")
	ErrCannotDeleteDefault = errors.New("channel: cannot delete the default channel")
	ErrNameTaken         = errors.New("channel: name already in use")
)

// Service owns channel CRUD against the datastore and the runtime-only
// membership registry layered on top of it. Membership is never persisted
// (see model.Channel's comment on MemberIDs) — it lives only as long as a
// client stays connected to the control plane.
type Service struct {
	store datastore.DataStore

	mu             sync.RWMutex
	membersByChan  map[uuid.UUID]map[uuid.UUID]bool // channelID -> userID set
	channelOfUser  map[uuid.UUID]uuid.UUID          // userID -> channelID
}

func NewService(store datastore.DataStore) *Service {
	return &Service{
		store:         store,
		membersByChan: make(map[uuid.UUID]map[uuid.UUID]bool),
		channelOfUser: make(map[uuid.UUID]uuid.UUID),
	}
}

// EnsureDefaultChannel creates the Lobby voice channel with a fresh key if
// it doesn't already exist. Safe to call on every startup.
func (s *Service) EnsureDefaultChannel(ctx context.Context) (*model.Channel, error) {
	existing, err := s.store.GetChannelByName(ctx, model.ChannelDefaultName)
	if err != nil {
		return nil, fmt.Errorf("channel: ensure default: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("channel: ensure default: %w", err)
	}
	ch := &model.Channel{
		ID:          uuid.New(),
		Name:        model.ChannelDefaultName,
		Type:        model.ChannelVoice,
		IsDefault:   true,
		KeyMaterial: key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("channel: ensure default: %w", err)
	}
	return ch, nil
}

// Create adds a new channel, enforcing the server-wide channel cap and
// name uniqueness. Voice channels get a fresh symmetric key; text channels
// carry none.
func (s *Service) Create(ctx context.Context, name string, chType model.ChannelType) (*model.Channel, error) {
	if err := model.ValidateChannelName(name); err != nil {
		return nil, err
	}
	existing, err := s.store.GetChannelByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("channel: create: %w", err)
	}
	if existing != nil {
		return nil, ErrNameTaken
	}
	count, err := s.store.CountChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel: create: %w", err)
	}
	if count >= model.MaxChannelsPerServer {
		return nil, ErrChannelFull
	}

	ch := &model.Channel{
		ID:        uuid.New(),
		Name:      name,
		Type:      chType,
		CreatedAt: time.Now().UTC(),
	}
	if chType == model.ChannelVoice {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("channel: create: %w", err)
		}
		ch.KeyMaterial = key
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("channel: create: %w", err)
	}
	return ch, nil
}

// Delete removes a channel and evicts any members currently in it. The
// default channel can never be deleted — there must always be somewhere to
// land a freshly authenticated user.
func (s *Service) Delete(ctx context.Context, channelID uuid.UUID) error {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("channel: delete: %w", err)
	}
	if ch == nil {
		return ErrChannelNotFound
	}
	if ch.IsDefault {
		return ErrCannotDeleteDefault
	}
	if err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("channel: delete: %w", err)
	}

	s.mu.Lock()
	for userID := range s.membersByChan[channelID] {
		delete(s.channelOfUser, userID)
	}
	delete(s.membersByChan, channelID)
	s.mu.Unlock()
	return nil
}

// List returns every channel with its current in-memory membership
// attached.
func (s *Service) List(ctx context.Context) ([]model.Channel, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel: list: %w", err)
	}
	for i := range channels {
		channels[i].MemberIDs = s.Members(channels[i].ID)
	}
	return channels, nil
}

// Get returns a single channel with its current membership attached, or
// nil if it doesn't exist.
func (s *Service) Get(ctx context.Context, channelID uuid.UUID) (*model.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel: get: %w", err)
	}
	if ch == nil {
		return nil, nil
	}
	ch.MemberIDs = s.Members(channelID)
	return ch, nil
}

// Join moves userID into channelID, first leaving whatever channel it was
// previously in — membership is single-channel, mirroring how a client can
// only render one active voice/text room at a time.
func (s *Service) Join(ctx context.Context, userID, channelID uuid.UUID) (*model.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel: join: %w", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}

	s.mu.Lock()
	if prev, ok := s.channelOfUser[userID]; ok {
		if members, found := s.membersByChan[prev]; found {
			delete(members, userID)
			if len(members) == 0 {
				delete(s.membersByChan, prev)
			}
		}
	}
	if s.membersByChan[channelID] == nil {
		s.membersByChan[channelID] = make(map[uuid.UUID]bool)
	}
	s.membersByChan[channelID][userID] = true
	s.channelOfUser[userID] = channelID
	s.mu.Unlock()

	ch.MemberIDs = s.Members(channelID)
	return ch, nil
}

// Leave removes userID from whatever channel it's in. The returned
// channelID is uuid.Nil if the user wasn't in any channel.
func (s *Service) Leave(userID uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelID, ok := s.channelOfUser[userID]
	if !ok {
		return uuid.Nil
	}
	delete(s.channelOfUser, userID)
	if members, found := s.membersByChan[channelID]; found {
		delete(members, userID)
		if len(members) == 0 {
			delete(s.membersByChan, channelID)
		}
	}
	return channelID
}

// GetUserChannel returns the channel userID currently occupies, if any.
func (s *Service) GetUserChannel(userID uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.channelOfUser[userID]
	return id, ok
}

// Members returns a snapshot of the user IDs currently in channelID.
func (s *Service) Members(channelID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.membersByChan[channelID]
	result := make([]uuid.UUID, 0, len(members))
	for id := range members {
		result = append(result, id)
	}
	return result
}

// OtherMembers returns Members(channelID) minus excludeUserID, used when
// fanning out a join/leave notification or a chat message to peers.
func (s *Service) OtherMembers(channelID, excludeUserID uuid.UUID) []uuid.UUID {
	all := s.Members(channelID)
	result := make([]uuid.UUID, 0, len(all))
	for _, id := range all {
		if id != excludeUserID {
			result = append(result, id)
		}
	}
	return result
}

// KeyMaterial returns the symmetric key for a voice channel, or nil for a
// text channel.
func (s *Service) KeyMaterial(ctx context.Context, channelID uuid.UUID) ([]byte, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel: key material: %w", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}
	return ch.KeyMaterial, nil
}
