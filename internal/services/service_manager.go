package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"comissao/internal/amqp"
	"comissao/internal/core"
	"comissao/internal/log"
	"comissao/internal/metrics"
	"comissao/internal/store"
)

// DuplicateFinder is the submission side of dupcheck.Detector. Recheck must
// query the store after the call starts rather than reuse an earlier lookup.
type DuplicateFinder interface {
	Recheck(ctx context.Context, title string) ([]core.Service, error)
}

// EventPublisher sends service change events to the export pipeline.
type EventPublisher interface {
	PublishServiceEvent(ctx context.Context, msg *amqp.ServiceEventMessage) error
}

// Config holds the business settings of a ServiceManager.
type Config struct {
	Prices   core.PriceTable
	Location *time.Location
	Clock    core.Clock
}

// ServiceManager runs the create, list and admin operations on service
// records. Every gated operation checks the policy before touching the store.
type ServiceManager struct {
	store     store.Store
	policy    core.Policy
	dup       DuplicateFinder
	publisher EventPublisher
	metrics   *metrics.Metrics

	prices core.PriceTable
	loc    *time.Location
	clock  core.Clock
}

func NewServiceManager(st store.Store, policy core.Policy, dup DuplicateFinder, publisher EventPublisher, m *metrics.Metrics, cfg Config) *ServiceManager {
	if cfg.Prices == nil {
		cfg.Prices = core.DefaultPriceTable()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	return &ServiceManager{
		store:     st,
		policy:    policy,
		dup:       dup,
		publisher: publisher,
		metrics:   m,
		prices:    cfg.Prices,
		loc:       cfg.Location,
		clock:     cfg.Clock,
	}
}

// CreateInput is a submission from the new-service form.
type CreateInput struct {
	ServiceType            core.ServiceType
	Title                  string
	AdminOverrideRequested bool
}

// CreateResult is the stored record plus the duplicates found at submission.
type CreateResult struct {
	Service    core.Service
	Duplicates []core.Service
}

// Create validates the input, re-checks duplicates against the store and
// inserts the record with the inclusion decided by the creation rule. A
// failed call changes nothing and can be retried with the same input.
func (m *ServiceManager) Create(ctx context.Context, caller core.Caller, in CreateInput) (CreateResult, error) {
	if !m.policy.Can(caller.Role, core.ActionCreate) {
		return CreateResult{}, &core.AuthorizationError{Action: string(core.ActionCreate)}
	}

	price, priceErr := m.prices.PriceOf(in.ServiceType)
	if err := core.ValidateSubmission(in.Title, price); err != nil {
		return CreateResult{}, err
	}
	if priceErr != nil {
		return CreateResult{}, priceErr
	}
	title := core.NormalizeTitle(in.Title)

	duplicates, err := m.dup.Recheck(ctx, title)
	if err != nil {
		return CreateResult{}, &core.RemoteError{Op: "duplicate check", Err: err}
	}

	inclusion := core.DecideInclusion(len(duplicates) > 0, in.AdminOverrideRequested, m.policy.Can(caller.Role, core.ActionOverride))
	if in.AdminOverrideRequested && !inclusion.AdminOverride {
		slog.InfoContext(ctx, "Ignoring override requested without permission",
			log.FieldComponent, log.ComponentService,
			log.FieldUserID, caller.UserID,
			log.FieldTitle, title)
	}

	created, err := m.store.Insert(ctx, core.Service{
		Title:          title,
		ServiceType:    in.ServiceType,
		Price:          price,
		UserID:         caller.UserID,
		Username:       caller.Username,
		IncludeInTotal: inclusion.IncludeInTotal,
		AdminOverride:  inclusion.AdminOverride,
	})
	if err != nil {
		return CreateResult{}, &core.RemoteError{Op: "insert service", Err: err}
	}

	m.metrics.ServiceCreated(string(created.ServiceType), created.IncludeInTotal)
	slog.InfoContext(ctx, "Service created",
		log.NewFields().
			WithComponent(log.ComponentService).
			WithOperation(log.OpCreate).
			WithService(created).
			ToSlice()...)
	m.publish(ctx, amqp.EventCreated, created)

	return CreateResult{Service: created, Duplicates: duplicates}, nil
}

// Authorize counts the record towards its month total as an admin override.
func (m *ServiceManager) Authorize(ctx context.Context, caller core.Caller, id string, expectedVersion int64) (core.Service, error) {
	return m.setInclusion(ctx, caller, core.ActionAuthorize, amqp.EventAuthorized, id, expectedVersion,
		store.Patch{IncludeInTotal: true, AdminOverride: true})
}

// Revoke removes the record from its month total and clears the override.
func (m *ServiceManager) Revoke(ctx context.Context, caller core.Caller, id string, expectedVersion int64) (core.Service, error) {
	return m.setInclusion(ctx, caller, core.ActionRevoke, amqp.EventRevoked, id, expectedVersion,
		store.Patch{IncludeInTotal: false, AdminOverride: false})
}

func (m *ServiceManager) setInclusion(ctx context.Context, caller core.Caller, action core.Action, event amqp.EventType, id string, expectedVersion int64, p store.Patch) (core.Service, error) {
	if err := m.require(ctx, caller, action, id); err != nil {
		return core.Service{}, err
	}

	updated, err := m.store.Update(ctx, id, p, expectedVersion)
	if err != nil {
		m.metrics.AdminAction(string(action), outcomeOf(err))
		return core.Service{}, storeError("update service", err)
	}

	m.metrics.AdminAction(string(action), "ok")
	slog.InfoContext(ctx, "Service inclusion changed",
		log.NewFields().
			WithComponent(log.ComponentService).
			WithOperation(log.OpUpdate).
			WithService(updated).
			With(log.FieldAction, string(action)).
			WithCaller(caller).
			ToSlice()...)
	m.publish(ctx, event, updated)
	return updated, nil
}

// Delete removes a record created in the current calendar month. The month
// is read from the server clock in the business time zone.
func (m *ServiceManager) Delete(ctx context.Context, caller core.Caller, id string, expectedVersion int64) error {
	if err := m.require(ctx, caller, core.ActionDelete, id); err != nil {
		return err
	}

	rows, err := m.store.Select(ctx, store.Filter{ID: id})
	if err != nil {
		m.metrics.AdminAction(string(core.ActionDelete), "error")
		return &core.RemoteError{Op: "load service", Err: err}
	}
	if len(rows) == 0 {
		m.metrics.AdminAction(string(core.ActionDelete), "not_found")
		return core.ErrNotFound
	}
	target := rows[0]
	if !m.DeletionWindowOpen(target) {
		m.metrics.AdminAction(string(core.ActionDelete), "denied")
		return &core.AuthorizationError{
			Action: string(core.ActionDelete),
			Reason: "only services from the current month can be deleted",
		}
	}

	if err := m.store.Delete(ctx, id, expectedVersion); err != nil {
		m.metrics.AdminAction(string(core.ActionDelete), outcomeOf(err))
		return storeError("delete service", err)
	}

	m.metrics.AdminAction(string(core.ActionDelete), "ok")
	slog.InfoContext(ctx, "Service deleted",
		log.NewFields().
			WithComponent(log.ComponentService).
			WithOperation(log.OpDelete).
			WithService(target).
			WithCaller(caller).
			ToSlice()...)
	m.publish(ctx, amqp.EventDeleted, target)
	return nil
}

// List returns the records visible in scope, newest first.
func (m *ServiceManager) List(ctx context.Context, caller core.Caller, scope core.Scope) ([]core.Service, error) {
	if !m.policy.Can(caller.Role, scope.Action()) {
		return nil, &core.AuthorizationError{Action: string(scope.Action()), Reason: "requires admin role"}
	}

	var f store.Filter
	switch scope {
	case core.ScopeOwn:
		f.UserID = caller.UserID
	case core.ScopePending:
		f.IncludeInTotal = store.Bool(false)
	}

	rows, err := m.store.Select(ctx, f)
	if err != nil {
		return nil, &core.RemoteError{Op: "list services", Err: err}
	}
	return rows, nil
}

// Months lists scope and groups it by month in the business time zone.
func (m *ServiceManager) Months(ctx context.Context, caller core.Caller, scope core.Scope) ([]core.MonthGroup, error) {
	rows, err := m.List(ctx, caller, scope)
	if err != nil {
		return nil, err
	}
	return core.GroupByMonth(rows, m.loc), nil
}

// DeletionWindowOpen reports whether s was created in the current month.
func (m *ServiceManager) DeletionWindowOpen(s core.Service) bool {
	return core.InSameMonth(s.CreatedAt, m.clock.Now(), m.loc)
}

// CurrentMonth returns the month key of now in the business time zone.
func (m *ServiceManager) CurrentMonth() core.MonthKey {
	return core.MonthKeyOf(m.clock.Now(), m.loc)
}

// Ping reports whether the store answers. Stores without a health check
// are assumed reachable.
func (m *ServiceManager) Ping(ctx context.Context) error {
	p, ok := m.store.(store.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return &core.RemoteError{Op: "ping store", Err: err}
	}
	return nil
}

// Prices returns the table used for new records.
func (m *ServiceManager) Prices() core.PriceTable { return m.prices }

// Location returns the business time zone.
func (m *ServiceManager) Location() *time.Location { return m.loc }

func (m *ServiceManager) require(ctx context.Context, caller core.Caller, action core.Action, id string) error {
	if m.policy.Can(caller.Role, action) {
		return nil
	}
	m.metrics.AdminAction(string(action), "denied")
	slog.WarnContext(ctx, "Admin action denied",
		log.FieldComponent, log.ComponentService,
		log.FieldAction, string(action),
		log.FieldServiceID, id,
		log.FieldUserID, caller.UserID)
	return &core.AuthorizationError{Action: string(action), Reason: "requires admin role"}
}

// publish never fails the operation; the record is already stored.
func (m *ServiceManager) publish(ctx context.Context, event amqp.EventType, s core.Service) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishServiceEvent(ctx, amqp.NewServiceEvent(event, s))
	m.metrics.EventPublished(string(event), err)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish service event",
			log.FieldComponent, log.ComponentService,
			log.FieldServiceID, s.ID,
			log.FieldEvent, string(event),
			log.FieldError, err)
	}
}

func storeError(op string, err error) error {
	if errors.Is(err, core.ErrNotFound) || core.IsConflict(err) {
		return err
	}
	return &core.RemoteError{Op: op, Err: err}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case core.IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
