// Package auth implements the login-poll helper spec §5/§6.2 calls out as
// an out-of-scope-but-honoured surface: original_source's CLI login
// command (packages/cli/src/commands/login.rs) creates a login, opens a
// browser to its URL, then polls GET /logins/{id} once a second until a
// token appears or a 300-second deadline elapses. PollLogin here is that
// poll loop, grounded on the teacher's pkg/health/http.go HTTPChecker
// (poll-with-timeout over an http.Client, a Result carrying success/
// failure and duration) adapted to login-token polling instead of health
// checks.
package auth

import (
	"context"
	"time"

	"github.com/tangramcore/tangram/internal/tgerror"
)

// Login mirrors the wire shape of original_source's Login struct
// (packages/client/src/login.rs): an id, the URL the user should open in a
// browser, and a token that is absent until the login completes.
type Login struct {
	ID    string
	URL   string
	Token string
}

// Client is the subset of a mirror client the login flow needs. A
// *mirror.Client satisfies this without internal/auth importing
// internal/mirror, the same local-interface pattern internal/script uses
// to avoid a cycle with internal/evaluator.
type Client interface {
	CreateLogin(ctx context.Context) (Login, error)
	GetLogin(ctx context.Context, id string) (Login, error)
}

// PollInterval and PollDeadline match original_source's login command
// exactly: poll once a second, give up after 300 seconds (spec §5's
// "the 'login' polling flow has a 300-second deadline").
const (
	PollInterval = 1 * time.Second
	PollDeadline = 300 * time.Second
)

// StartLogin creates a login session and returns it; the caller is
// expected to present Login.URL to the user (e.g. open a browser) before
// calling PollLogin.
func StartLogin(ctx context.Context, client Client) (Login, error) {
	return client.CreateLogin(ctx)
}

// PollLogin polls client.GetLogin for loginID once per PollInterval until a
// token appears or PollDeadline elapses, returning the completed Login.
func PollLogin(ctx context.Context, client Client, loginID string) (Login, error) {
	deadline := time.Now().Add(PollDeadline)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		login, err := client.GetLogin(ctx, loginID)
		if err != nil {
			return Login{}, err
		}
		if login.Token != "" {
			return login, nil
		}
		if time.Now().After(deadline) {
			return Login{}, tgerror.New(tgerror.KindIO, "auth: login timed out, please try again")
		}

		select {
		case <-ctx.Done():
			return Login{}, tgerror.Wrap(tgerror.KindCancelled, ctx.Err(), "auth: login polling cancelled")
		case <-ticker.C:
		}
	}
}
