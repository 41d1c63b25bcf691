package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/bookbridge/internal/session"
)

// SiteConfig describes the booking site's login form and schedule view.
type SiteConfig struct {
	LoginURL         string
	ScheduleURL      string
	Username         string
	Password         string
	UserSelector     string
	PasswordSelector string
	SubmitSelector   string
}

// FormAuthenticator performs the site's username/password form login.
type FormAuthenticator struct {
	cfg    SiteConfig
	logger *zap.Logger
}

func NewFormAuthenticator(cfg SiteConfig, logger *zap.Logger) *FormAuthenticator {
	return &FormAuthenticator{cfg: cfg, logger: logger.Named("login")}
}

// Login navigates to the login page, fills the form and submits it.
func (a *FormAuthenticator) Login(ctx context.Context, checkout session.Checkout) error {
	page := checkout.Page
	if err := page.Navigate(ctx, a.cfg.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := page.Fill(ctx, a.cfg.UserSelector, a.cfg.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := page.Fill(ctx, a.cfg.PasswordSelector, a.cfg.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(ctx, a.cfg.SubmitSelector); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	// The site bounces back to the login form on bad credentials, so a still
	// present password field means the login did not take.
	probe := fmt.Sprintf("document.querySelector(%q) !== null", a.cfg.PasswordSelector)
	raw, err := page.Evaluate(ctx, probe)
	if err != nil {
		return fmt.Errorf("verify login: %w", err)
	}
	if stillOnForm, ok := raw.(bool); ok && stillOnForm {
		return fmt.Errorf("login rejected for %s", a.cfg.Username)
	}
	a.logger.Debug("login accepted")
	return nil
}

// scheduleScript pulls the schedule rows the site renders into its booking
// grid. The site has no API; this reads the same DOM the staff see.
const scheduleScript = `
(() => {
	const rows = Array.from(document.querySelectorAll('[data-booking-id]'));
	return JSON.stringify(rows.map(el => ({
		reference: el.dataset.bookingId,
		guest: el.dataset.guestName || '',
		resource: el.dataset.resource || '',
		starts_at: el.dataset.startsAt || '',
		ends_at: el.dataset.endsAt || '',
		party: parseInt(el.dataset.partySize || '0', 10),
		notes: el.dataset.notes || ''
	})));
})()`

// ScheduleExtractor scrapes the schedule view.
type ScheduleExtractor struct {
	cfg    SiteConfig
	logger *zap.Logger
}

func NewScheduleExtractor(cfg SiteConfig, logger *zap.Logger) *ScheduleExtractor {
	return &ScheduleExtractor{cfg: cfg, logger: logger.Named("extract")}
}

// Extract navigates to the schedule view and reads the rendered bookings.
func (e *ScheduleExtractor) Extract(ctx context.Context, checkout session.Checkout) ([]Reservation, error) {
	page := checkout.Page
	if err := page.Navigate(ctx, e.cfg.ScheduleURL); err != nil {
		return nil, fmt.Errorf("open schedule view: %w", err)
	}

	raw, err := page.Evaluate(ctx, scheduleScript)
	if err != nil {
		return nil, fmt.Errorf("read schedule rows: %w", err)
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected schedule payload type %T", raw)
	}

	var rows []scheduleRow
	if err := json.Unmarshal([]byte(encoded), &rows); err != nil {
		return nil, fmt.Errorf("decode schedule rows: %w", err)
	}

	reservations := make([]Reservation, 0, len(rows))
	for _, row := range rows {
		r, err := row.toReservation()
		if err != nil {
			e.logger.Warn("skipping malformed schedule row",
				zap.String("reference", row.Reference), zap.Error(err))
			continue
		}
		reservations = append(reservations, r)
	}
	e.logger.Debug("schedule extracted", zap.Int("reservations", len(reservations)))
	return reservations, nil
}

type scheduleRow struct {
	Reference string `json:"reference"`
	Guest     string `json:"guest"`
	Resource  string `json:"resource"`
	StartsAt  string `json:"starts_at"`
	EndsAt    string `json:"ends_at"`
	Party     int    `json:"party"`
	Notes     string `json:"notes"`
}

func (r scheduleRow) toReservation() (Reservation, error) {
	if r.Reference == "" {
		return Reservation{}, fmt.Errorf("missing booking reference")
	}
	starts, err := time.Parse(time.RFC3339, r.StartsAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("parse starts_at %q: %w", r.StartsAt, err)
	}
	ends, err := time.Parse(time.RFC3339, r.EndsAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("parse ends_at %q: %w", r.EndsAt, err)
	}
	return Reservation{
		Reference: r.Reference,
		Guest:     r.Guest,
		Resource:  r.Resource,
		StartsAt:  starts,
		EndsAt:    ends,
		Party:     r.Party,
		Notes:     r.Notes,
	}, nil
}
