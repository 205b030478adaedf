package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/signbridge/signaling-server/pkg/protocol"
	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

type Profile struct {
	UserID      protocol.UserID `json:"userId"`
	DisplayName string          `json:"displayName"`
	AvatarURL   string          `json:"avatarUrl,omitempty"`
}

// Store is the read-only profile lookup used to enrich presence payloads.
type Store interface {
	Profile(ctx context.Context, userID protocol.UserID) (*Profile, error)
}

// DisplayName resolves the user's display name, degrading to the raw user id
// when the profile store is unreachable.
func DisplayName(ctx context.Context, store Store, userID protocol.UserID) string {
	p, err := store.Profile(ctx, userID)
	if err != nil || p.DisplayName == "" {
		return userID
	}
	return p.DisplayName
}

type httpStore struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func (s *httpStore) Profile(ctx context.Context, userID protocol.UserID) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/users/%s", s.baseURL, url.PathEscape(userID))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile store status %d", response.StatusCode)
	}

	p := &Profile{}
	if err := json.NewDecoder(response.Body).Decode(p); err != nil {
		return nil, err
	}
	p.UserID = userID
	return p, nil
}

// nullStore answers every lookup with the raw user id.
type nullStore struct{}

func (nullStore) Profile(_ context.Context, userID protocol.UserID) (*Profile, error) {
	return &Profile{UserID: userID, DisplayName: userID}, nil
}

type NewStoreParams struct {
	fx.In

	Logger *slog.Logger
}

func NewStore(params NewStoreParams) Store {
	baseURL := variables.Env(variables.PROFILE_STORE_URL_NAME, variables.PROFILE_STORE_URL_DEFAULT)
	if baseURL == "" {
		params.Logger.Warn("PROFILE_STORE_URL not set, presence payloads show raw user ids")
		return nullStore{}
	}
	return &httpStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		log:     params.Logger,
	}
}
