// Package workflow drives vulnerabilities through their triage lifecycle.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// MinRiskReasonLength is the minimal number of characters of a trimmed
// risk-acceptance reason.
const MinRiskReasonLength = 10

// Store persists vulnerabilities and their audit trail.
type Store interface {
	GetVulnerability(ctx context.Context, id uint) (*models.Vulnerability, error)
	// SaveVulnerabilityWithEvent writes the workflow fields of v and appends
	// ev in one transaction. It fails with models.ErrInvalidState when the
	// stored state no longer equals expected.
	SaveVulnerabilityWithEvent(ctx context.Context, v *models.Vulnerability, expected models.VulnState, ev *models.VulnerabilityEvent) error
	ListEvents(ctx context.Context, vulnerabilityID uint) ([]models.VulnerabilityEvent, error)
}

// Observer is notified of every persisted workflow action.
type Observer interface {
	Transition(action models.EventAction, to models.VulnState)
}

// Machine defines the vulnerability state machine.
type Machine struct {
	store     Store
	observer  Observer
	multiUser bool // assignment needs a deployment with several users
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers o to be notified of persisted actions.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// New returns a new *Machine. multiUser enables Assign.
func New(store Store, multiUser bool, opts ...Option) *Machine {
	m := &Machine{store: store, multiUser: multiUser, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) save(ctx context.Context, v *models.Vulnerability, expected models.VulnState, ev *models.VulnerabilityEvent) error {
	if err := m.store.SaveVulnerabilityWithEvent(ctx, v, expected, ev); err != nil {
		return err
	}
	if m.observer != nil {
		m.observer.Transition(ev.Action, ev.To)
	}
	return nil
}

// Get returns the vulnerability with the given id.
func (m *Machine) Get(ctx context.Context, id uint) (*models.Vulnerability, error) {
	return m.store.GetVulnerability(ctx, id)
}

// History returns the audit trail of a vulnerability, oldest first.
func (m *Machine) History(ctx context.Context, id uint) ([]models.VulnerabilityEvent, error) {
	if _, err := m.store.GetVulnerability(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListEvents(ctx, id)
}

// ChangeState moves a vulnerability to another state.
func (m *Machine) ChangeState(ctx context.Context, id uint, to models.VulnState, actor models.UserID) (*models.Vulnerability, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", models.ErrValidation, to)
	}

	v, err := m.store.GetVulnerability(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.State
	if !Allowed(from, to) {
		return nil, &InvalidTransitionError{VulnerabilityID: id, From: from, To: to}
	}

	now := m.now().UTC()
	v.State = to
	v.StateChangedBy = actor
	v.StateChangedAt = &now

	ev := &models.VulnerabilityEvent{
		VulnerabilityID: id,
		Action:          models.ActionStateChange,
		From:            from,
		To:              to,
		Actor:           actor,
		At:              now,
	}
	if err := m.save(ctx, v, from, ev); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"vulnerability_id": id, "actor": actor}).Infof("State changed from %s to %s", from, to)
	return v, nil
}

// Assign records the user responsible for a vulnerability. The state is unchanged.
func (m *Machine) Assign(ctx context.Context, id uint, user, actor models.UserID) (*models.Vulnerability, error) {
	if !m.multiUser {
		return nil, fmt.Errorf("%w: assignment requires a multi-user deployment", models.ErrCapabilityDisabled)
	}

	v, err := m.store.GetVulnerability(ctx, id)
	if err != nil {
		return nil, err
	}

	v.AssignedTo = &user
	ev := &models.VulnerabilityEvent{
		VulnerabilityID: id,
		Action:          models.ActionAssign,
		From:            v.State,
		To:              v.State,
		Actor:           actor,
		Assignee:        &user,
		At:              m.now().UTC(),
	}
	if err := m.save(ctx, v, v.State, ev); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"vulnerability_id": id, "actor": actor}).Infof("Assigned to user %d", user)
	return v, nil
}

// AcceptRisk closes a vulnerability as an accepted risk. reason is mandatory
// and checked before anything is read.
func (m *Machine) AcceptRisk(ctx context.Context, id uint, reason string, actor models.UserID) (*models.Vulnerability, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinRiskReasonLength {
		return nil, fmt.Errorf("%w: risk acceptance reason must be at least %d characters", models.ErrValidation, MinRiskReasonLength)
	}

	v, err := m.store.GetVulnerability(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.State
	if from.IsTerminal() {
		return nil, &InvalidTransitionError{VulnerabilityID: id, From: from, To: models.StateAcceptedRisk}
	}

	now := m.now().UTC()
	v.State = models.StateAcceptedRisk
	v.RiskReason = reason
	v.StateChangedBy = actor
	v.StateChangedAt = &now

	ev := &models.VulnerabilityEvent{
		VulnerabilityID: id,
		Action:          models.ActionAcceptRisk,
		From:            from,
		To:              models.StateAcceptedRisk,
		Actor:           actor,
		Reason:          reason,
		At:              now,
	}
	if err := m.save(ctx, v, from, ev); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"vulnerability_id": id, "actor": actor}).Infof("Risk accepted: %s", reason)
	return v, nil
}

// Reopen moves a closed vulnerability back to triage and clears any
// recorded risk acceptance.
func (m *Machine) Reopen(ctx context.Context, id uint, actor models.UserID, note string) (*models.Vulnerability, error) {
	v, err := m.store.GetVulnerability(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.State
	if !from.IsTerminal() {
		return nil, &InvalidTransitionError{VulnerabilityID: id, From: from, To: models.StateTriaging}
	}

	now := m.now().UTC()
	v.State = models.StateTriaging
	v.RiskReason = ""
	v.StateChangedBy = actor
	v.StateChangedAt = &now

	ev := &models.VulnerabilityEvent{
		VulnerabilityID: id,
		Action:          models.ActionReopen,
		From:            from,
		To:              models.StateTriaging,
		Actor:           actor,
		Reason:          strings.TrimSpace(note),
		At:              now,
	}
	if err := m.save(ctx, v, from, ev); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"vulnerability_id": id, "actor": actor}).Warnf("Reopened from %s", from)
	return v, nil
}
