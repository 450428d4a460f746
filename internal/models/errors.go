package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrCampaignBudgetExhausted = fmt.Errorf("campaign credit limit reached: %w", ErrInsufficientCredits)
	ErrIllegalStateTransition  = errors.New("illegal state transition")
	ErrOutsideWorkingHours     = errors.New("outside working hours")
	ErrCooldownActive          = errors.New("cooldown active")
	ErrDailyLimitReached       = errors.New("daily outreach limit reached")
	ErrClassificationTimeout   = errors.New("sentiment classification timed out")
	ErrDuplicateLeadConversion = errors.New("conversation already converted")

	ErrUnknownReservation = errors.New("unknown reservation")
	ErrReservationSettled = errors.New("reservation already settled")
	ErrInvalidAmount      = errors.New("credit amount must be positive")

	ErrInvalidTemperature = errors.New("temperature must be within [0,1]")
	ErrInvalidSettings    = errors.New("invalid autonomy settings")
	ErrContentTooLong     = fmt.Errorf("connection note exceeds %d characters", MaxConnectionNoteLen)
	ErrEmptyContent       = errors.New("message content is empty")
	ErrOutsideTargeting   = errors.New("contact does not match campaign filters")
	ErrDuplicateContact   = errors.New("contact already enrolled in campaign")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrAccountExists      = errors.New("account already exists")
	ErrCampaignNotActive  = errors.New("campaign is not active")
	ErrApprovalResolved   = errors.New("approval already resolved")
	ErrConversationClosed = errors.New("conversation is not open")
	ErrUnknownPackage     = errors.New("unknown credit package")
	ErrInvalidMatchScore  = errors.New("match score must be within [0,100]")
	ErrInvalidRating      = errors.New("rating must be up or down")
	ErrInvalidLeadQuery   = errors.New("invalid lead filter or sort")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	From   string
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot apply %s in state %s", e.Entity, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalStateTransition }
