package steps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"extendvps/internal/page"
)

const dateLayout = "2006-01-02"

// Tomorrow returns the date after now in loc, formatted as the panel shows it.
func Tomorrow(now time.Time, loc *time.Location) string {
	return now.In(loc).AddDate(0, 0, 1).Format(dateLayout)
}

// RenewalURL turns a server detail link into the renewal form URL for the
// same server, resolved against the page it was found on.
func RenewalURL(pageURL, detailHref string) (string, error) {
	const from, to = "detail?id", "freevps/extend/index?id_vps"
	if !strings.Contains(detailHref, from) {
		return "", fmt.Errorf("%w: %q is not a detail link", ErrNavigation, detailHref)
	}
	ref, err := url.Parse(strings.Replace(detailHref, from, to, 1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: page url: %v", ErrNavigation, err)
	}
	target := base.ResolveReference(ref)
	if !target.IsAbs() || target.Host == "" {
		return "", fmt.Errorf("%w: %q has no absolute base", ErrNavigation, detailHref)
	}
	return target.String(), nil
}

// Dashboard opens the renewal form when the free server expires tomorrow.
func (s *Set) Dashboard(ctx context.Context) (Outcome, error) {
	s.status.Update(ctx, "Checking renewal status...")

	found, err := s.page.Has(ctx, s.sel.FreeServerRow)
	if err != nil {
		return 0, err
	}
	if !found {
		s.logger.Info("free server row not found", zap.String("selector", s.sel.FreeServerRow))
		s.status.Update(ctx, "No free VPS was found.")
		return Finished, nil
	}

	expiry, err := s.page.Text(ctx, s.sel.ExpiryDate)
	if err != nil && !errors.Is(err, page.ErrMissingElement) {
		return 0, err
	}
	expiry = strings.TrimSpace(expiry)
	tomorrow := Tomorrow(s.now(), s.flow.Location())
	s.logger.Info("compared expiry", zap.String("expiry", expiry), zap.String("tomorrow", tomorrow))

	if expiry != tomorrow {
		s.status.Update(ctx, "This VPS does not need renewal yet.")
		if err := s.status.RemoveAfter(ctx, s.flow.StatusRemove()); err != nil {
			return 0, err
		}
		return Finished, nil
	}

	href, err := s.page.Attribute(ctx, s.sel.DetailLink, "href")
	if err != nil {
		return 0, fmt.Errorf("%w: detail link: %w", ErrNavigation, err)
	}
	current, err := s.page.URL(ctx)
	if err != nil {
		return 0, err
	}
	target, err := RenewalURL(current, href)
	if err != nil {
		return 0, err
	}

	s.status.Update(ctx, "Expiry is tomorrow. Proceeding to renewal...")
	if err := s.waiter.Delay(ctx, s.flow.Navigate()); err != nil {
		return 0, err
	}
	if err := s.page.Navigate(ctx, target); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	return Navigating, nil
}
