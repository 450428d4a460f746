package outreach

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

type NewCampaign struct {
	Name           string               `json:"name"`
	Filters        models.TargetFilters `json:"filters"`
	CreditLimit    int                  `json:"credit_limit"`
	ConnectionNote string               `json:"connection_note"`
	Qualifications string               `json:"qualifications"`
	// Start activates the campaign right away instead of leaving it a draft.
	Start bool `json:"start"`
}

type NewContact struct {
	Profile    models.Profile `json:"profile"`
	MatchScore int            `json:"match_score"`
}

var campaignEdges = map[string]map[models.CampaignStatus]models.CampaignStatus{
	"resume": {
		models.CampaignDraft:  models.CampaignActive,
		models.CampaignPaused: models.CampaignActive,
	},
	"pause": {
		models.CampaignActive: models.CampaignPaused,
	},
	"complete": {
		models.CampaignDraft:  models.CampaignCompleted,
		models.CampaignActive: models.CampaignCompleted,
		models.CampaignPaused: models.CampaignCompleted,
	},
}

func (s *Service) CreateCampaign(ctx context.Context, accountID string, in NewCampaign) (*models.Campaign, error) {
	if in.CreditLimit < 0 {
		return nil, fmt.Errorf("credit limit %d: %w", in.CreditLimit, models.ErrInvalidAmount)
	}
	if utf8.RuneCountInString(in.ConnectionNote) > models.MaxConnectionNoteLen {
		return nil, models.ErrContentTooLong
	}
	now := s.now()
	c := &models.Campaign{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Name:           in.Name,
		Filters:        in.Filters,
		Status:         models.CampaignDraft,
		CreditLimit:    in.CreditLimit,
		ConnectionNote: in.ConnectionNote,
		Qualifications: in.Qualifications,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Start {
		c.Status = models.CampaignActive
	}
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		if !g.Account.Active {
			return models.ErrAccountInactive
		}
		if err := s.reg.Journal().SaveCampaign(ctx, c); err != nil {
			return fmt.Errorf("persist campaign: %w", err)
		}
		g.Campaigns[c.ID] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reg.Index(state.KindCampaign, c.ID, accountID)
	s.log.Infow("campaign created", "account", accountID, "campaign", c.ID, "status", c.Status)
	cp := *c
	return &cp, nil
}

// PauseCampaign stops new sends and aborts deliveries already in flight.
// Their reservations are released; settled credits stay spent.
func (s *Service) PauseCampaign(ctx context.Context, campaignID string) error {
	s.sched.CancelCampaign(campaignID)
	defer s.sched.ReleaseCampaign(campaignID)
	return s.moveCampaign(ctx, campaignID, "pause")
}

func (s *Service) ResumeCampaign(ctx context.Context, campaignID string) error {
	return s.moveCampaign(ctx, campaignID, "resume")
}

func (s *Service) CompleteCampaign(ctx context.Context, campaignID string) error {
	return s.moveCampaign(ctx, campaignID, "complete")
}

func (s *Service) moveCampaign(ctx context.Context, campaignID, event string) error {
	return s.reg.UpdateOwner(state.KindCampaign, campaignID, func(g *state.Aggregate) error {
		c, ok := g.Campaigns[campaignID]
		if !ok {
			return fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
		}
		to, ok := campaignEdges[event][c.Status]
		if !ok {
			return &models.TransitionError{Entity: "campaign " + campaignID, From: string(c.Status), Event: event}
		}
		next := *c
		next.Status = to
		next.UpdatedAt = s.now()
		if err := s.reg.Journal().SaveCampaign(ctx, &next); err != nil {
			return fmt.Errorf("persist campaign: %w", err)
		}
		g.Campaigns[campaignID] = &next
		s.log.Infow("campaign status changed", "campaign", campaignID, "from", c.Status, "to", to)
		if to == models.CampaignCompleted {
			s.pub.Publish(events.Event{Type: events.CampaignCompleted, AccountID: g.Account.ID, Data: next, At: next.UpdatedAt})
		}
		return nil
	})
}

// AddContact enrolls a recruiter in a campaign as pending. The profile must
// match the campaign filters and must not already be enrolled there.
func (s *Service) AddContact(ctx context.Context, campaignID string, in NewContact) (*models.Contact, error) {
	if in.MatchScore < 0 || in.MatchScore > 100 {
		return nil, fmt.Errorf("match score %d: %w", in.MatchScore, models.ErrInvalidMatchScore)
	}
	profile := in.Profile
	profile.Skills = append([]string(nil), in.Profile.Skills...)
	profile.ProfileURL = normalizeProfileURL(profile.ProfileURL)

	var out *models.Contact
	err := s.reg.UpdateOwner(state.KindCampaign, campaignID, func(g *state.Aggregate) error {
		camp, ok := g.Campaigns[campaignID]
		if !ok {
			return fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
		}
		if camp.Status == models.CampaignCompleted {
			return fmt.Errorf("campaign %s: %w", campaignID, models.ErrCampaignNotActive)
		}
		if !matchesFilters(camp.Filters, profile) {
			return models.ErrOutsideTargeting
		}
		if profile.ProfileURL != "" {
			for _, existing := range g.CampaignContacts(campaignID) {
				if existing.Profile.ProfileURL == profile.ProfileURL {
					return fmt.Errorf("%s: %w", profile.ProfileURL, models.ErrDuplicateContact)
				}
			}
		}
		c := &models.Contact{
			ID:         uuid.NewString(),
			CampaignID: campaignID,
			AccountID:  g.Account.ID,
			Profile:    profile,
			MatchScore: in.MatchScore,
			Status:     models.StatusPending,
			CreatedAt:  s.now(),
		}
		if err := s.reg.Journal().SaveContact(ctx, c); err != nil {
			return fmt.Errorf("persist contact: %w", err)
		}
		g.Contacts[c.ID] = c
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reg.Index(state.KindContact, out.ID, out.AccountID)
	return out, nil
}

// matchesFilters applies the campaign targeting. Each non-empty filter list
// must have one entry matching the profile; comparisons ignore case.
func matchesFilters(f models.TargetFilters, p models.Profile) bool {
	return anyContains(f.Countries, p.Location) &&
		anyContains(f.Companies, p.Company) &&
		anyContains(f.Roles, p.Title) &&
		anySkill(f.Skills, p.Skills)
}

func anyContains(wanted []string, value string) bool {
	if len(wanted) == 0 {
		return true
	}
	v := strings.ToLower(value)
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(v, w) {
			return true
		}
	}
	return false
}

func anySkill(wanted, skills []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, sk := range skills {
			if strings.EqualFold(strings.TrimSpace(w), strings.TrimSpace(sk)) {
				return true
			}
		}
	}
	return false
}

// normalizeProfileURL strips query, fragment and trailing slash and makes
// relative profile paths absolute.
func normalizeProfileURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if !strings.HasPrefix(u, "http") {
		u = "https://www.linkedin.com/" + strings.TrimLeft(u, "/")
	}
	u = strings.Replace(u, "http://", "https://", 1)
	return strings.ToLower(u)
}
