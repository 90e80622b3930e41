package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	logins   map[string]Login
	pollsLeft int
}

func (f *fakeClient) CreateLogin(ctx context.Context) (Login, error) {
	return Login{ID: "abc", URL: "https://example.test/login/abc"}, nil
}

func (f *fakeClient) GetLogin(ctx context.Context, id string) (Login, error) {
	login := f.logins[id]
	if f.pollsLeft > 0 {
		f.pollsLeft--
		login.Token = ""
	}
	return login, nil
}

func TestPollLoginReturnsOnceTokenAppears(t *testing.T) {
	client := &fakeClient{
		logins:    map[string]Login{"abc": {ID: "abc", Token: "secret-token"}},
		pollsLeft: 2,
	}

	login, err := PollLogin(context.Background(), client, "abc")
	require.NoError(t, err)
	require.Equal(t, "secret-token", login.Token)
}

func TestStartLoginReturnsCreatedLogin(t *testing.T) {
	client := &fakeClient{logins: map[string]Login{}}
	login, err := StartLogin(context.Background(), client)
	require.NoError(t, err)
	require.Equal(t, "abc", login.ID)
}

func TestPollLoginRespectsCancellation(t *testing.T) {
	client := &fakeClient{logins: map[string]Login{"abc": {ID: "abc"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PollLogin(ctx, client, "abc")
	require.Error(t, err)
}
