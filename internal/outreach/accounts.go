package outreach

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/scheduler"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

type NewAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateAccount registers an account with the configured defaults and its
// initial credit grant.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (*models.Account, error) {
	now := s.now()
	d := s.cfg.Defaults
	a := &models.Account{
		ID:          in.ID,
		Name:        in.Name,
		CreditCap:   d.CreditCap,
		Temperature: d.Temperature,
		Settings:    d.Settings,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := s.reg.Update(a.ID, func(*state.Aggregate) error { return nil }); err == nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, models.ErrAccountExists)
	}
	if err := s.reg.Journal().SaveAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}
	s.reg.AddAccount(a)
	s.ledger.Open(a.ID, a.CreditCap)
	if d.InitialCredits > 0 {
		if _, err := s.ledger.Credit(ctx, a.ID, d.InitialCredits, models.ReasonAdjustment); err != nil {
			return nil, fmt.Errorf("initial credits: %w", err)
		}
	}
	s.refillMu.Lock()
	s.refilled[a.ID] = now.UTC().Format("2006-01")
	s.refillMu.Unlock()

	s.log.Infow("account created", "account", a.ID, "credits", d.InitialCredits)
	cp := *a
	return &cp, nil
}

// DeactivateAccount stops all outbound activity. Accounts are never deleted.
func (s *Service) DeactivateAccount(ctx context.Context, accountID string) error {
	return s.updateAccount(ctx, accountID, func(a *models.Account) error {
		a.Active = false
		return nil
	})
}

// SetTemperature stores the autonomy level. Values outside [0,1] are rejected.
func (s *Service) SetTemperature(ctx context.Context, accountID string, value float64) error {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return fmt.Errorf("temperature %v: %w", value, models.ErrInvalidTemperature)
	}
	return s.updateAccount(ctx, accountID, func(a *models.Account) error {
		a.Temperature = value
		return nil
	})
}

// SetAutonomySettings replaces the account settings. The daily cap and the
// cooldown must not be negative and the working hours must parse.
func (s *Service) SetAutonomySettings(ctx context.Context, accountID string, settings models.AutonomySettings) error {
	if settings.MaxDailyOutreach < 0 {
		return fmt.Errorf("max daily outreach %d: %w", settings.MaxDailyOutreach, models.ErrInvalidSettings)
	}
	if settings.CooldownPeriodDays < 0 {
		return fmt.Errorf("cooldown period %d: %w", settings.CooldownPeriodDays, models.ErrInvalidSettings)
	}
	if _, err := scheduler.NewWindow(settings.WorkingHours); err != nil {
		return err
	}
	return s.updateAccount(ctx, accountID, func(a *models.Account) error {
		a.Settings = settings
		return nil
	})
}

// PurchaseCredits records a package bought through the payment collaborator.
func (s *Service) PurchaseCredits(ctx context.Context, accountID, packageID string) (models.CreditTransaction, error) {
	pkg, ok := s.cfg.Package(packageID)
	if !ok {
		return models.CreditTransaction{}, fmt.Errorf("package %q: %w", packageID, models.ErrUnknownPackage)
	}
	tx, err := s.ledger.Credit(ctx, accountID, pkg.Credits, models.ReasonPurchase)
	if err != nil {
		return models.CreditTransaction{}, err
	}
	s.log.Infow("credits purchased", "account", accountID, "package", pkg.ID, "credits", pkg.Credits)
	return tx, nil
}

func (s *Service) updateAccount(ctx context.Context, accountID string, fn func(*models.Account) error) error {
	return s.reg.Update(accountID, func(g *state.Aggregate) error {
		next := *g.Account
		if err := fn(&next); err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		if err := s.reg.Journal().SaveAccount(ctx, &next); err != nil {
			return fmt.Errorf("persist account: %w", err)
		}
		g.Account = &next
		return nil
	})
}
