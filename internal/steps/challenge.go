package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"extendvps/internal/page"
	"extendvps/internal/recognize"
	"extendvps/internal/waiter"
)

// ChallengeSubmit solves the image CAPTCHA, waits for the human-verification
// token and submits the form. A token that never appears still leads to a
// submission unless the challenge config turns that off.
func (s *Set) ChallengeSubmit(ctx context.Context) (Outcome, error) {
	s.status.Update(ctx, "Recognizing and entering the CAPTCHA...")

	cleared, err := s.waiter.WaitFor(ctx, waiter.Condition{
		Name: "cloudflare-cleared",
		Check: func(ctx context.Context) bool {
			blocking, err := s.page.Has(ctx, s.sel.CloudflareBlocking)
			return err == nil && !blocking
		},
		Timeout:    s.chal.CloudflareWait(),
		Strategies: []waiter.Strategy{waiter.Poll(s.chal.CloudflareInterval())},
	})
	if err != nil {
		return 0, err
	}
	if cleared.TimedOut() {
		s.logger.Warn("cloudflare interstitial still present, continuing", zap.Duration("waited", cleared.Elapsed))
	}

	imgSel, err := page.First(ctx, s.page, s.sel.CaptchaImage...)
	if err != nil {
		return 0, fmt.Errorf("captcha image: %w", err)
	}
	image, err := s.page.Attribute(ctx, imgSel, "src")
	if err != nil {
		return 0, fmt.Errorf("captcha image: %w", err)
	}
	if image == "" {
		return 0, fmt.Errorf("captcha image: %w", page.Missing(imgSel+"[src]"))
	}

	s.status.Update(ctx, "Recognizing the CAPTCHA. Please wait...")
	code, err := s.caller.Call(ctx, image, recognize.MinLength(s.recog.MinLength), s.recog.MaxAttempts)
	if err != nil {
		return 0, err
	}
	s.logger.Info("captcha recognized", zap.String("code", code))
	s.status.Update(ctx, "CAPTCHA recognized. Preparing the form...")

	inputSel, err := page.First(ctx, s.page, s.sel.CaptchaInput...)
	if err != nil {
		return 0, fmt.Errorf("captcha input: %w", err)
	}
	if err := s.page.SetValue(ctx, inputSel, code); err != nil {
		return 0, err
	}
	if err := s.page.DispatchInput(ctx, inputSel); err != nil {
		return 0, err
	}
	s.status.Update(ctx, "CAPTCHA entered. Waiting for human verification...")

	token, err := s.waiter.WaitFor(ctx, s.tokenCondition())
	if err != nil {
		return 0, err
	}
	if token.TimedOut() {
		if !s.chal.ForceSubmit() {
			return 0, fmt.Errorf("verification token: %w", waiter.ErrTimeout)
		}
		s.logger.Warn("verification token timed out, forcing submit")
		s.status.Warn(ctx, "Human verification timed out. Submitting anyway...")
	} else {
		s.logger.Info("verification token ready", zap.String("by", token.By), zap.Duration("elapsed", token.Elapsed))
	}

	return s.submit(ctx)
}

func (s *Set) tokenCondition() waiter.Condition {
	field := s.sel.TokenField
	observeField := func(ctx context.Context) (<-chan struct{}, error) {
		return s.page.Observe(ctx, field)
	}
	return waiter.Condition{
		Name: "verification-token",
		Check: func(ctx context.Context) bool {
			v, err := s.page.Value(ctx, field)
			return err == nil && v != ""
		},
		Timeout: s.chal.TokenWait(),
		Strategies: []waiter.Strategy{
			waiter.Observe(observeField),
			waiter.Appear(func(ctx context.Context) (<-chan struct{}, error) {
				return s.page.ObserveAdded(ctx, s.sel.TokenScope, field)
			}, observeField),
			waiter.External(s.chal.TokenInterval(), func(ctx context.Context) (string, error) {
				return s.page.Evaluate(ctx, s.chal.TokenGetter)
			}),
			waiter.Poll(s.chal.TokenInterval()),
		},
	}
}

func (s *Set) submit(ctx context.Context) (Outcome, error) {
	s.status.Update(ctx, "All checks complete. Submitting...")
	if err := s.waiter.Delay(ctx, s.flow.Submit()); err != nil {
		return 0, err
	}

	btn, err := page.First(ctx, s.page, s.sel.SubmitButton, s.sel.SubmitFallback)
	if err != nil {
		return 0, withNotice("Submit button not found. Please submit manually.", fmt.Errorf("submit: %w", err))
	}
	if err := s.page.Click(ctx, btn); err != nil {
		return 0, err
	}
	return Finished, nil
}
