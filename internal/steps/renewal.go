package steps

import (
	"context"
	"fmt"

	"extendvps/internal/page"
)

// RenewalRequest presses the confirmation button that leads to the CAPTCHA page.
func (s *Set) RenewalRequest(ctx context.Context) (Outcome, error) {
	s.status.Update(ctx, "Preparing the renewal request...")
	if err := s.waiter.Delay(ctx, s.flow.RenewalSettle()); err != nil {
		return 0, err
	}

	ok, err := s.page.Has(ctx, s.sel.ExtendButton)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("extend button: %w", page.Missing(s.sel.ExtendButton))
	}

	s.status.Update(ctx, "Confirming the renewal terms...")
	if err := s.waiter.Delay(ctx, s.flow.RenewalClick()); err != nil {
		return 0, err
	}
	if err := s.page.Click(ctx, s.sel.ExtendButton); err != nil {
		return 0, err
	}
	return Navigating, nil
}
