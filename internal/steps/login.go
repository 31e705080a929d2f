package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"extendvps/internal/page"
	"extendvps/internal/store"
)

// Login fills stored credentials and calls the page's login function. When
// nothing is stored, or the page shows a login error, it waits for the user
// to submit the form and saves what they typed.
func (s *Set) Login(ctx context.Context) (Outcome, error) {
	s.status.Update(ctx, "Processing login...")

	member, okMember, err := s.creds.Get(ctx, store.KeyMemberID)
	if err != nil {
		return 0, fmt.Errorf("read stored member id: %w", err)
	}
	password, okPassword, err := s.creds.Get(ctx, store.KeyPassword)
	if err != nil {
		return 0, fmt.Errorf("read stored password: %w", err)
	}
	loginError, err := s.page.Has(ctx, s.sel.LoginError)
	if err != nil {
		return 0, err
	}

	if !okMember || member == "" || !okPassword || password == "" || loginError {
		s.logger.Info("waiting for manual login",
			zap.Bool("stored", okMember && okPassword),
			zap.Bool("login_error", loginError))
		return s.captureLogin(ctx)
	}

	for _, sel := range []string{s.sel.MemberID, s.sel.Password} {
		ok, err := s.page.Has(ctx, sel)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("login form: %w", page.Missing(sel))
		}
	}
	if err := s.page.SetValue(ctx, s.sel.MemberID, member); err != nil {
		return 0, err
	}
	if err := s.page.SetValue(ctx, s.sel.Password, password); err != nil {
		return 0, err
	}
	s.status.Update(ctx, "Stored credentials found. Logging in...")

	if err := s.waiter.Delay(ctx, s.flow.LoginSubmit()); err != nil {
		return 0, err
	}
	if err := s.page.Call(ctx, s.sel.LoginFunction); err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		s.logger.Warn("login function unavailable", zap.String("function", s.sel.LoginFunction), zap.Error(err))
		s.status.Warn(ctx, "Warning: the login function was not found. Please log in manually.")
		return s.captureLogin(ctx)
	}
	return Navigating, nil
}

func (s *Set) captureLogin(ctx context.Context) (Outcome, error) {
	fields := []string{s.sel.MemberID, s.sel.Password}
	submitted, err := s.page.CaptureSubmit(ctx, s.sel.LoginForm, fields)
	if err != nil {
		return 0, fmt.Errorf("arm login capture: %w", err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case values, ok := <-submitted:
		if !ok {
			return 0, ctx.Err()
		}
		member, password := values[s.sel.MemberID], values[s.sel.Password]
		if member == "" || password == "" {
			s.logger.Warn("submitted login form was incomplete; nothing saved")
			return Navigating, nil
		}
		// The submit starts a navigation that cancels ctx; the write must survive it.
		saveCtx := context.WithoutCancel(ctx)
		if err := s.creds.Set(saveCtx, store.KeyMemberID, member); err != nil {
			return 0, fmt.Errorf("save member id: %w", err)
		}
		if err := s.creds.Set(saveCtx, store.KeyPassword, password); err != nil {
			return 0, fmt.Errorf("save password: %w", err)
		}
		s.logger.Info("saved new credentials")
		return Navigating, nil
	}
}
