package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mehmetcc/sessiongate/internal/session"
	"go.uber.org/zap"
)

type LoginInput struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterInput struct {
	Email     string `json:"email"      validate:"required,email"`
	Password  string `json:"password"   validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=64"`
	LastName  string `json:"last_name"  validate:"required,max=64"`
}

type VerifyAccountInput struct {
	Token string `json:"token" validate:"required"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Login signs in and stores the user. When the login response carries no
// user, the profile is fetched.
func (c *Coordinator) Login(ctx context.Context, in LoginInput) (*session.User, error) {
	defer c.track()()

	if err := c.check(in); err != nil {
		return nil, err
	}
	resp, err := c.Call(ctx, Request{Method: http.MethodPost, Path: c.cfg.Endpoints.Login, Body: in})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiErrorFrom(resp)
	}

	user, found, err := decodeUser(resp.Body)
	if err != nil {
		return nil, err
	}
	if !found {
		return c.fetchProfile(ctx)
	}
	c.store.SetUser(user)
	c.logger.Info("signed in", zap.String("user_id", user.ID))
	return user, nil
}

// Logout tells the backend, then forgets the session locally no matter what
// the backend said.
func (c *Coordinator) Logout(ctx context.Context) {
	defer c.track()()

	resp, err := c.Call(ctx, Request{Method: http.MethodPost, Path: c.cfg.Endpoints.Logout})
	switch {
	case err != nil:
		c.logger.Warn("server logout failed, clearing local session anyway", zap.Error(err))
	case !resp.OK():
		c.logger.Warn("server logout rejected, clearing local session anyway", zap.Int("status", resp.StatusCode))
	}
	c.clearLocal()
	c.nav.Navigate(c.cfg.LoginPath)
}

// RefreshSession is Refresh with loading tracked. A failed refresh drops the
// user but does not navigate; callers decide where to go.
func (c *Coordinator) RefreshSession(ctx context.Context) bool {
	defer c.track()()

	if c.Refresh(ctx) {
		return true
	}
	if ctx.Err() == nil {
		c.clearLocal()
	}
	return false
}

// CheckAuth loads the profile. Any failure leaves the store without a user.
func (c *Coordinator) CheckAuth(ctx context.Context) (*session.User, error) {
	defer c.track()()

	user, err := c.fetchProfile(ctx)
	if err != nil {
		c.store.SetUser(nil)
		return nil, err
	}
	return user, nil
}

func (c *Coordinator) Register(ctx context.Context, in RegisterInput) error {
	defer c.track()()

	if err := c.check(in); err != nil {
		return err
	}
	return c.post(ctx, c.cfg.Endpoints.Register, in)
}

// VerifyAccount confirms an account. Backends that sign the user in on
// verification send the user back, which is then stored.
func (c *Coordinator) VerifyAccount(ctx context.Context, in VerifyAccountInput) error {
	defer c.track()()

	if err := c.check(in); err != nil {
		return err
	}
	resp, err := c.Call(ctx, Request{Method: http.MethodPost, Path: c.cfg.Endpoints.VerifyAccount, Body: in})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiErrorFrom(resp)
	}
	if user, found, err := decodeUser(resp.Body); err == nil && found {
		c.store.SetUser(user)
	}
	return nil
}

func (c *Coordinator) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	defer c.track()()

	if err := c.check(in); err != nil {
		return err
	}
	return c.post(ctx, c.cfg.Endpoints.ForgotPassword, in)
}

func (c *Coordinator) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	defer c.track()()

	if err := c.check(in); err != nil {
		return err
	}
	return c.post(ctx, c.cfg.Endpoints.ResetPassword, in)
}

func (c *Coordinator) post(ctx context.Context, path string, body any) error {
	resp, err := c.Call(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiErrorFrom(resp)
	}
	return nil
}

func (c *Coordinator) fetchProfile(ctx context.Context) (*session.User, error) {
	resp, err := c.Call(ctx, Request{Method: http.MethodGet, Path: c.cfg.Endpoints.Profile})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiErrorFrom(resp)
	}
	user, found, err := decodeUser(resp.Body)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: profile has no user", ErrMalformedResponse)
	}
	c.store.SetUser(user)
	return user, nil
}

func (c *Coordinator) check(in any) error {
	if err := c.validate.Struct(in); err != nil {
		return invalidInput(err)
	}
	return nil
}

// decodeUser finds a user in a response body. It accepts {"user":{...}},
// {"data":{...}} (optionally nesting "user" again) and a bare user object.
// found is false for empty bodies and objects that do not look like a user.
func decodeUser(body []byte) (user *session.User, found bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	for _, key := range []string{"user", "data"} {
		raw, ok := probe[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		return decodeUser(raw)
	}

	_, hasID := probe["id"]
	_, hasEmail := probe["email"]
	if !hasID && !hasEmail {
		return nil, false, nil
	}

	var ru session.RawUser
	if err := json.Unmarshal(body, &ru); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	u := ru.Normalize()
	return &u, true, nil
}
