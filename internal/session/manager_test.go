package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   atomic.Int32
	gate    chan struct{}
	result  *Refreshed
	err     error
	lastArg string
	mu      sync.Mutex
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*Refreshed, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastArg = refreshToken
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func accessToken(t *testing.T, exp int64, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "user-1", "realm_access": map[string]any{"roles": roles}}
	if exp != 0 {
		claims["exp"] = exp
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func newTestManager(refresher Refresher, now time.Time) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	m := NewManager(store, refresher, 30*time.Minute, nil, WithClock(func() time.Time { return now }))
	return m, store
}

func TestManager_SignIn(t *testing.T) {
	now := time.Now()
	m, store := newTestManager(&fakeRefresher{}, now)

	at := accessToken(t, now.Add(5*time.Minute).Unix(), "ROLE_USER", "ROLE_ADMIN")
	id, data, err := m.SignIn(context.Background(), Grant{
		AccessToken:  at,
		RefreshToken: "rt-1",
		IDToken:      "id-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_USER"}, data.Credentials.Roles)
	assert.Equal(t, now.Add(5*time.Minute).Unix(), data.Credentials.ExpiresAt)
	assert.Equal(t, "user-1", data.Subject)
	assert.Len(t, data.CSRFToken, 64)
	assert.Equal(t, StateValid, m.State(data))

	stored, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "id-1", stored.IDToken)
}

func TestManager_SignIn_UndecodableTokenHasNoRoles(t *testing.T) {
	now := time.Now()
	m, _ := newTestManager(&fakeRefresher{}, now)

	_, data, err := m.SignIn(context.Background(), Grant{AccessToken: "opaque", ExpiresAt: now.Unix() + 60})
	require.NoError(t, err)
	assert.Empty(t, data.Credentials.Roles)
	assert.Equal(t, now.Unix()+60, data.Credentials.ExpiresAt)
}

func TestManager_Read_ValidIsIdempotent(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{}
	m, store := newTestManager(refresher, now)

	store.Put("s1", &Data{Credentials: CredentialSet{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    now.Add(time.Minute).Unix(),
		Roles:        []string{"ROLE_USER"},
	}}, time.Hour)

	for i := 0; i < 3; i++ {
		got, err := m.Read(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.Credentials.AccessToken)
		assert.Equal(t, "rt-1", got.Credentials.RefreshToken)
	}
	assert.Zero(t, refresher.calls.Load())
}

func TestManager_Read_ExpiredRefreshes(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{result: &Refreshed{
		Credentials: CredentialSet{
			AccessToken:  "at-2",
			RefreshToken: "rt-2",
			ExpiresAt:    now.Unix() + 300,
			Roles:        []string{"ROLE_ADMIN"},
		},
		IDToken: "id-2",
	}}
	m, store := newTestManager(refresher, now)

	store.Put("s1", &Data{
		Credentials: CredentialSet{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			ExpiresAt:    now.Add(-time.Second).Unix(),
			Roles:        []string{"ROLE_USER"},
		},
		IDToken:   "id-1",
		CSRFToken: "csrf",
	}, time.Hour)

	got, err := m.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, "rt-1", refresher.lastArg)
	assert.Equal(t, "at-2", got.Credentials.AccessToken)
	assert.Equal(t, "rt-2", got.Credentials.RefreshToken)
	assert.Equal(t, now.Unix()+300, got.Credentials.ExpiresAt)
	assert.Equal(t, []string{"ROLE_ADMIN"}, got.Credentials.Roles)
	assert.Nil(t, got.Credentials.Error)
	assert.Equal(t, "id-2", got.IDToken)
	assert.Equal(t, "csrf", got.CSRFToken)

	persisted, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", persisted.Credentials.AccessToken)
}

func TestManager_Read_RefreshFailureIsTerminal(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{err: errors.New("token refresh failed: invalid_grant")}
	m, store := newTestManager(refresher, now)

	store.Put("s1", &Data{Credentials: CredentialSet{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    now.Add(-time.Minute).Unix(),
		Roles:        []string{"ROLE_USER"},
	}}, time.Hour)

	got, err := m.Read(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Credentials.Error)
	assert.Equal(t, ErrorRefreshFailed, got.Credentials.Error.Kind)
	assert.Contains(t, got.Credentials.Error.Message, "invalid_grant")
	assert.Equal(t, []string{"ROLE_USER"}, got.Credentials.Roles)
	assert.False(t, got.Credentials.Usable())
	assert.Equal(t, StateRefreshFailed, m.State(got))

	// Terminal: later reads do not retry.
	again, err := m.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ErrorRefreshFailed, again.Credentials.Error.Kind)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestManager_Read_NoRefreshToken(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{}
	m, store := newTestManager(refresher, now)

	store.Put("s1", &Data{Credentials: CredentialSet{
		AccessToken: "at-1",
		ExpiresAt:   now.Add(-time.Minute).Unix(),
	}}, time.Hour)

	got, err := m.Read(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Credentials.Error)
	assert.Equal(t, ErrorNoRefreshToken, got.Credentials.Error.Kind)
	assert.Zero(t, refresher.calls.Load())

	persisted, _ := store.Get(context.Background(), "s1")
	assert.Equal(t, ErrorNoRefreshToken, persisted.Credentials.Error.Kind)
}

func TestManager_Read_CanceledContextIsNotTerminal(t *testing.T) {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	refresher := &fakeRefresher{err: context.Canceled}
	m, store := newTestManager(refresher, now)

	store.Put("s1", &Data{Credentials: CredentialSet{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    now.Add(-time.Minute).Unix(),
	}}, time.Hour)

	cancel()
	_, err := m.Read(ctx, "s1")
	require.ErrorIs(t, err, context.Canceled)

	persisted, _ := store.Get(context.Background(), "s1")
	assert.Nil(t, persisted.Credentials.Error)
}

func TestManager_Read_NotFound(t *testing.T) {
	m, _ := newTestManager(&fakeRefresher{}, time.Now())

	_, err := m.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Read(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ConcurrentReadsShareOneRefresh(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{
		gate: make(chan struct{}),
		result: &Refreshed{Credentials: CredentialSet{
			AccessToken:  "at-2",
			RefreshToken: "rt-2",
			ExpiresAt:    now.Unix() + 300,
		}},
	}
	m, store := newTestManager(refresher, now)
	store.Put("s1", &Data{Credentials: CredentialSet{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    now.Add(-time.Minute).Unix(),
	}}, time.Hour)

	const readers = 8
	var wg sync.WaitGroup
	results := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Read(context.Background(), "s1")
			if err == nil {
				results <- got.Credentials.AccessToken
			}
		}()
	}

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(refresher.gate)
	wg.Wait()
	close(results)

	for at := range results {
		assert.Equal(t, "at-2", at)
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestManager_Terminate(t *testing.T) {
	m, store := newTestManager(&fakeRefresher{}, time.Now())
	store.Put("s1", &Data{IDToken: "id-1", Credentials: CredentialSet{AccessToken: "a"}}, time.Hour)

	data, err := m.Terminate(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "id-1", data.IDToken)

	_, err = m.Peek(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	data, err = m.Terminate(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestHandle_BindsSessionID(t *testing.T) {
	now := time.Now()
	m, store := newTestManager(&fakeRefresher{}, now)
	store.Put("s1", &Data{Credentials: CredentialSet{AccessToken: "a", ExpiresAt: now.Unix() + 60}}, time.Hour)

	h := m.Handle("s1")
	assert.Equal(t, "s1", h.ID())

	got, err := h.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Credentials.AccessToken)

	got, err = h.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Credentials.AccessToken)
}
