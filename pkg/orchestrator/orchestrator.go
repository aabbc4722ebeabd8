// Package orchestrator exposes the public facade for running sagas: starting
// and resuming transactions, reporting step outcomes by idempotency key, and
// propagating lifecycle events to subscribers on every instance.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/dukex/sagabus/pkg/events"
	"github.com/dukex/sagabus/pkg/idempotency"
	"github.com/dukex/sagabus/pkg/notifier"
	"github.com/dukex/sagabus/pkg/protocol"
	"github.com/dukex/sagabus/pkg/registry"
)

// Config assembles one orchestrator instance.
type Config struct {
	// InstanceID is the process identity stamped on outgoing envelopes.
	// Generated when empty; immutable afterwards.
	InstanceID string

	// Engine executes the steps. It is the sole authority over per-step state
	// and over whether a step-action was already resolved.
	Engine protocol.Engine

	// Publisher and Subscriber are the broker sides. The broker must deliver
	// per-channel ordered, at least once.
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Delivery tunes the cross-instance broadcast guarantee.
	Delivery notifier.Config

	Logger *slog.Logger
}

// Orchestrator is a thin, stateless coordinator over the engine, the
// subscriber registry and the notification fan-out. It holds no transaction
// state of its own and takes no distributed locks. Multiple independent
// orchestrators can coexist in one process, each with its own registry and
// identity.
type Orchestrator struct {
	instanceID string
	engine     protocol.Engine
	registry   *registry.Registry
	notifier   *notifier.Notifier
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu         sync.Mutex
	rootCtx    context.Context
	rootCancel context.CancelFunc
	channels   map[string]context.CancelFunc
	closed     bool
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}

	if cfg.Publisher == nil || cfg.Subscriber == nil {
		return nil, errors.New("broker publisher and subscriber are required")
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("component", "orchestrator", "instance_id", cfg.InstanceID)
	reg := registry.New(logger)

	o := &Orchestrator{
		instanceID: cfg.InstanceID,
		engine:     cfg.Engine,
		registry:   reg,
		notifier:   notifier.New(cfg.InstanceID, reg, cfg.Publisher, cfg.Delivery, logger),
		publisher:  cfg.Publisher,
		subscriber: cfg.Subscriber,
		logger:     logger,
		channels:   make(map[string]context.CancelFunc),
	}

	reg.SetActivationHooks(o.activateChannel, o.deactivateChannel)

	return o, nil
}

// InstanceID returns the process identity of this orchestrator.
func (o *Orchestrator) InstanceID() string {
	return o.instanceID
}

// Open starts the lifecycle: inbound broker subscriptions created by later
// Subscribe calls live until Close. Open must be called once, before any other
// operation.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.New("orchestrator is closed")
	}

	if o.rootCtx != nil {
		return errors.New("orchestrator is already open")
	}

	// Inbound loops outlive the Open call itself.
	o.rootCtx, o.rootCancel = context.WithCancel(context.WithoutCancel(ctx))

	return nil
}

// Close tears the instance down: every workflow channel is unsubscribed and
// the broker connections are closed. The orchestrator cannot be reopened.
func (o *Orchestrator) Close() error {
	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()

		return nil
	}

	o.closed = true

	for workflowID, cancel := range o.channels {
		cancel()
		delete(o.channels, workflowID)
	}

	if o.rootCancel != nil {
		o.rootCancel()
	}

	o.mu.Unlock()

	return errors.Join(o.publisher.Close(), o.subscriber.Close())
}

// Start begins a new transaction of the given workflow. When no transaction id
// is supplied, a time-sortable unique id is generated so concurrent starts
// never collide and ids stay naturally orderable.
func (o *Orchestrator) Start(ctx context.Context, workflowID string, opts StartOptions) (*Result, error) {
	if workflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	transactionID := opts.TransactionID
	if transactionID == "" {
		transactionID = watermill.NewULID()
	}

	txn, err := o.engine.Start(ctx, protocol.StartRequest{
		WorkflowID:    workflowID,
		TransactionID: transactionID,
		Input:         opts.Input,
		Context:       opts.Context,
		ResultFrom:    opts.ResultFrom,
		ThrowOnError:  opts.ThrowOnError,
	}, o.buildHandlers(opts.EventHandlers))
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow %s: %w", workflowID, err)
	}

	o.finishIfTerminal(ctx, txn)

	return o.result(txn), nil
}

// Resume rehydrates a handle to an in-flight transaction.
func (o *Orchestrator) Resume(ctx context.Context, workflowID, transactionID string, transactionContext map[string]any) (protocol.Transaction, error) {
	if workflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	if transactionID == "" {
		return nil, ErrMissingTransactionID
	}

	txn, err := o.engine.Resume(ctx, workflowID, transactionID, transactionContext, o.buildHandlers(nil))
	if err != nil {
		if errors.Is(err, protocol.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrTransactionNotFound, workflowID, transactionID)
		}

		return nil, fmt.Errorf("failed to resume transaction %s/%s: %w", workflowID, transactionID, err)
	}

	o.finishIfTerminal(ctx, txn)

	return txn, nil
}

// ReportStepSuccess registers a successful step outcome. Safe to invoke more
// than once with the same idempotency key: the engine decides whether the
// step-action was already resolved, and a redundant report after the
// transaction finished never re-emits the finish broadcast.
func (o *Orchestrator) ReportStepSuccess(ctx context.Context, report StepReport) (*Result, error) {
	return o.reportStep(ctx, report, o.engine.RegisterStepSuccess)
}

// ReportStepFailure registers a failed step outcome, with the same idempotency
// guarantees as ReportStepSuccess.
func (o *Orchestrator) ReportStepFailure(ctx context.Context, report StepReport) (*Result, error) {
	return o.reportStep(ctx, report, o.engine.RegisterStepFailure)
}

type registerFunc func(ctx context.Context, key idempotency.Key, response any, handlers *events.HandlerTable) (protocol.Transaction, error)

func (o *Orchestrator) reportStep(ctx context.Context, report StepReport, register registerFunc) (*Result, error) {
	key, err := o.resolveKey(report)
	if err != nil {
		return nil, err
	}

	txn, err := register(ctx, key, report.Response, o.buildHandlers(report.EventHandlers))
	if err != nil {
		if errors.Is(err, protocol.ErrStepAlreadyResolved) && txn != nil {
			// Blind retry of an already-registered outcome: surface the
			// current state without a second terminal notification.
			return o.result(txn), nil
		}

		return nil, fmt.Errorf("failed to register step outcome for %s: %w", key, err)
	}

	o.finishIfTerminal(ctx, txn)

	return o.result(txn), nil
}

func (o *Orchestrator) resolveKey(report StepReport) (idempotency.Key, error) {
	if report.Key != nil {
		return *report.Key, nil
	}

	return idempotency.Parse(report.IdempotencyKey)
}

// Subscribe registers a callback for lifecycle events. An empty TransactionID
// subscribes workflow-wide. Returns the effective subscriber id.
func (o *Orchestrator) Subscribe(opts SubscribeOptions) (string, error) {
	if opts.WorkflowID == "" {
		return "", ErrMissingWorkflowID
	}

	if opts.Subscriber == nil {
		return "", ErrMissingSubscriber
	}

	o.mu.Lock()
	open := o.rootCtx != nil && !o.closed
	o.mu.Unlock()

	if !open {
		return "", ErrNotOpen
	}

	id := o.registry.Subscribe(opts.WorkflowID, opts.TransactionID, registry.Registration{
		ID:      opts.SubscriberID,
		Handler: opts.Subscriber,
	})

	return id, nil
}

// Unsubscribe removes a registration by id or, when no id is given, by
// callback identity.
func (o *Orchestrator) Unsubscribe(opts UnsubscribeOptions) error {
	if opts.WorkflowID == "" {
		return ErrMissingWorkflowID
	}

	if opts.SubscriberID != "" {
		o.registry.Unsubscribe(opts.WorkflowID, opts.TransactionID, opts.SubscriberID)

		return nil
	}

	if opts.Subscriber == nil {
		return ErrMissingSubscriber
	}

	o.registry.UnsubscribeHandler(opts.WorkflowID, opts.TransactionID, opts.Subscriber)

	return nil
}

// buildHandlers assembles the per-call handler table handed to the engine.
// Every slot first runs the caller's custom handler in the caller's own stack,
// then fans the event out. The finish slot runs the custom handler only: the
// cross-instance finish broadcast is emitted at the facade level, the moment
// completion is detected, so it fires exactly once no matter which operation
// detected it.
func (o *Orchestrator) buildHandlers(custom *events.HandlerTable) *events.HandlerTable {
	notify := func(ctx context.Context, event events.Event) error {
		o.runCustom(ctx, custom, event)

		if err := o.notifier.Notify(ctx, event); err != nil {
			o.logger.Error("failed to broadcast event",
				"workflow_id", event.WorkflowID,
				"transaction_id", event.TransactionID,
				"event_type", event.Type,
				"error", err)
		}

		return nil
	}

	finish := func(ctx context.Context, event events.Event) error {
		o.runCustom(ctx, custom, event)

		return nil
	}

	return &events.HandlerTable{
		OnBegin:                 notify,
		OnResume:                notify,
		OnTimeout:               notify,
		OnCompensateBegin:       notify,
		OnStepBegin:             notify,
		OnStepSuccess:           notify,
		OnStepFailure:           notify,
		OnCompensateStepSuccess: notify,
		OnCompensateStepFailure: notify,
		OnFinish:                finish,
	}
}

// runCustom isolates caller-supplied handlers: their failure must never stop
// the facade's own terminal-state detection and broadcast.
func (o *Orchestrator) runCustom(ctx context.Context, custom *events.HandlerTable, event events.Event) {
	if custom == nil {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			o.logger.Error("custom event handler panicked",
				"workflow_id", event.WorkflowID,
				"event_type", event.Type,
				"panic", recovered)
		}
	}()

	if err := custom.Dispatch(ctx, event); err != nil {
		o.logger.Error("custom event handler failed",
			"workflow_id", event.WorkflowID,
			"event_type", event.Type,
			"error", err)
	}
}

func (o *Orchestrator) finishIfTerminal(ctx context.Context, txn protocol.Transaction) {
	if txn == nil || !txn.HasFinished() {
		return
	}

	event := events.NewFinishEvent(txn.WorkflowID(), txn.TransactionID(), txn.Result(), txn.Errors())
	if err := o.notifier.Notify(ctx, event); err != nil {
		o.logger.Error("failed to broadcast finish event",
			"workflow_id", txn.WorkflowID(),
			"transaction_id", txn.TransactionID(),
			"error", err)
	}
}

func (o *Orchestrator) result(txn protocol.Transaction) *Result {
	return &Result{
		Acknowledgement: Acknowledgement{
			WorkflowID:    txn.WorkflowID(),
			TransactionID: txn.TransactionID(),
		},
		Transaction: txn,
		Result:      txn.Result(),
		Errors:      txn.Errors(),
	}
}

// activateChannel opens the inbound broker subscription for a workflow. Fired
// by the registry on the first registration for that workflow; later
// registrations find the channel already open.
func (o *Orchestrator) activateChannel(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rootCtx == nil || o.closed {
		return
	}

	if _, exists := o.channels[workflowID]; exists {
		return
	}

	chanCtx, cancel := context.WithCancel(o.rootCtx)

	messages, err := o.subscriber.Subscribe(chanCtx, events.ChannelFor(workflowID))
	if err != nil {
		cancel()
		o.logger.Error("failed to subscribe to workflow channel", "workflow_id", workflowID, "error", err)

		return
	}

	o.channels[workflowID] = cancel

	go o.consume(chanCtx, workflowID, messages)
}

// deactivateChannel closes the inbound subscription once the last registration
// of a workflow is removed.
func (o *Orchestrator) deactivateChannel(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cancel, exists := o.channels[workflowID]; exists {
		cancel()
		delete(o.channels, workflowID)
	}
}

func (o *Orchestrator) consume(ctx context.Context, workflowID string, messages <-chan *message.Message) {
	for msg := range messages {
		var envelope events.Envelope

		if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
			o.logger.Error("dropping malformed envelope", "workflow_id", workflowID, "error", err)
			msg.Ack()

			continue
		}

		o.notifier.DispatchInbound(ctx, envelope)
		msg.Ack()
	}
}
