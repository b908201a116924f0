package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog/log"

	"github.com/tillpoint/possync/internal/models"
	"github.com/tillpoint/possync/internal/repository"
	"github.com/tillpoint/possync/pkg/gateway"
)

// Gateway is the backend payments API as seen by the manager.
type Gateway interface {
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error)
	CreatePaymentIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.IntentResponse, error)
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error)
	LookupPayment(ctx context.Context, idempotencyKey string) (*gateway.PaymentResponse, error)
}

// Connectivity is the subset of the connectivity monitor the manager needs.
type Connectivity interface {
	Offline() bool
	OnChange(fn func(offline bool)) func()
}

// Options tune the retry loop. Zero values fall back to defaults.
type Options struct {
	MaxRetries     int           // permanent failure after this many attempts (default 5)
	BaseBackoff    time.Duration // backoff for the first retry (default 1s)
	MaxBackoff     time.Duration // backoff ceiling (default 60s)
	InterItemDelay time.Duration // pause between drained items (default 250ms)
	Currency       string        // currency for buffered amounts (default "usd")
	ErrorSample    int           // recent failure reasons kept in status (default 5)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.InterItemDelay <= 0 {
		o.InterItemDelay = 250 * time.Millisecond
	}
	if o.Currency == "" {
		o.Currency = "usd"
	}
	if o.ErrorSample <= 0 {
		o.ErrorSample = 5
	}
	return o
}

// Manager owns payment buffering for the terminal: it decides the
// online-vs-offline capture path, appends operations to the outbox, and
// drives the retry loop. It is the single writer of payment operation
// records; the in-memory cache shadows the store and is written through on
// every mutation.
//
// The mutex is never held across a gateway call. Every mutation that follows
// a network await re-reads the current record first, so a cancel arriving
// while a capture is in flight is observed before the result is applied.
type Manager struct {
	repo *repository.OutboxRepository
	gw   Gateway
	conn Connectivity
	opts Options

	mu          sync.Mutex
	loaded      bool
	ops         map[string]*models.SyncOperation
	payments    map[string]*models.BufferedPaymentIntent
	opByPayment map[string]string
	opOrder     []string // operation IDs in creation (seq) order
	processing  bool
	lastAttempt *time.Time
	recentErrs  []string
	subs        map[int]func(Status)
	nextSub     int
	unsubConn   func()
}

// NewManager constructs a Manager. Initialize must be called before any
// buffering operation; the composition root owns the lifecycle.
func NewManager(repo *repository.OutboxRepository, gw Gateway, conn Connectivity, opts Options) *Manager {
	return &Manager{
		repo: repo,
		gw:   gw,
		conn: conn,
		opts: opts.withDefaults(),
	}
}

// Initialize hydrates the cache from the store, wires connectivity callbacks
// and kicks off a drain if the terminal is currently online. Calling it
// twice is a no-op. It is the only entry point allowed to fail loudly: a
// store that cannot be read means pending payments would be invisible, and
// the caller must decide how to react.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return nil
	}
	if err := m.loadLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	unsub := m.conn.OnChange(func(bool) {
		// The online flag is part of the published status.
		m.publish()
	})
	m.mu.Lock()
	m.unsubConn = unsub
	n := len(m.opOrder)
	m.mu.Unlock()

	log.Info().Int("operations", n).Msg("Payment manager initialized")

	if !m.conn.Offline() {
		go m.TriggerProcessing(context.WithoutCancel(ctx))
	}
	return nil
}

// loadLocked hydrates the cache. Caller holds the mutex.
func (m *Manager) loadLocked() error {
	ops, err := m.repo.ListAll()
	if err != nil {
		return fmt.Errorf("failed to load outbox: %w", err)
	}

	m.ops = make(map[string]*models.SyncOperation, len(ops))
	m.payments = make(map[string]*models.BufferedPaymentIntent)
	m.opByPayment = make(map[string]string)
	m.opOrder = m.opOrder[:0]
	if m.subs == nil {
		m.subs = make(map[int]func(Status))
	}

	for i := range ops {
		op := &ops[i]
		m.ops[op.ID] = op
		m.opOrder = append(m.opOrder, op.ID)
		if op.Type != models.OpCreatePayment {
			continue
		}
		var p models.BufferedPaymentIntent
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("corrupt payment payload for operation %s: %w", op.ID, err)
		}
		m.payments[p.ID] = &p
		m.opByPayment[p.ID] = op.ID
	}

	m.loaded = true
	return nil
}

// ensureLoadedLocked retries hydration lazily when a previous Initialize
// failed. Caller holds the mutex.
func (m *Manager) ensureLoadedLocked() error {
	if m.loaded {
		return nil
	}
	return m.loadLocked()
}

// BufferCashPayment buffers a cash capture. The returned payment ID is
// usable immediately; the capture itself happens asynchronously, so the
// caller never blocks on the network. An error is returned only when the
// local store refused the write.
func (m *Manager) BufferCashPayment(ctx context.Context, orderID string, amount int64) (string, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	offline := m.conn.Offline()
	p := m.newIntent(orderID, amount, models.MethodCash, nil, offline)

	if err := m.appendPaymentLocked(p); err != nil {
		m.mu.Unlock()
		return "", err
	}
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	log.Info().
		Str("payment_id", p.ID).
		Str("order_id", orderID).
		Int64("amount", amount).
		Bool("offline", offline).
		Msg("Cash payment buffered")

	if !offline {
		go m.TriggerProcessing(context.WithoutCancel(ctx))
	}
	return p.ID, nil
}

// BufferCardPayment buffers a card capture. Online, it first creates a
// remote payment intent synchronously; any gateway failure degrades to the
// offline shape instead of surfacing an error, so a flaky network never
// breaks the order-taking flow. An error is returned only when the local
// store refused the write.
func (m *Manager) BufferCardPayment(ctx context.Context, orderID string, amount int64, card *models.CardDetails) (CardBufferResult, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return CardBufferResult{}, err
	}
	offline := m.conn.Offline()
	m.mu.Unlock()

	if offline {
		return m.bufferCardDeferred(orderID, amount, card, nil, "")
	}

	intentReq := gateway.IntentRequest{
		OrderID:  orderID,
		Amount:   amount,
		Currency: m.opts.Currency,
	}
	if card != nil {
		intentReq.CardDetails = &gateway.CardDetails{Last4: card.Last4, Brand: card.Brand, Expiry: card.Expiry}
	}
	intent, err := m.gw.CreatePaymentIntent(ctx, intentReq)
	if err != nil {
		log.Warn().
			Err(err).
			Str("order_id", orderID).
			Msg("Payment intent creation failed, buffering card payment for later capture")
		return m.bufferCardDeferred(orderID, amount, card, nil, err.Error())
	}

	res, err := m.bufferCardDeferred(orderID, amount, card, intent, "")
	if err != nil {
		return res, err
	}
	go m.TriggerProcessing(context.WithoutCancel(ctx))
	return CardBufferResult{PaymentID: res.PaymentID, RequiresOnlineProcessing: false}, nil
}

// bufferCardDeferred persists a card payment in PENDING. When intent is nil
// the capture is tagged as requiring online processing.
func (m *Manager) bufferCardDeferred(orderID string, amount int64, card *models.CardDetails, intent *gateway.IntentResponse, intentErr string) (CardBufferResult, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return CardBufferResult{}, err
	}
	offline := m.conn.Offline()
	p := m.newIntent(orderID, amount, models.MethodCard, card, offline)

	requiresOnline := intent == nil
	if intent != nil {
		id := intent.PaymentIntentID
		p.PaymentIntentID = &id
		p.Metadata["clientSecret"] = intent.ClientSecret
	} else {
		p.Metadata["requiresOnlineCapture"] = true
	}
	if intentErr != "" {
		p.Metadata["intentError"] = intentErr
	}

	if err := m.appendPaymentLocked(p); err != nil {
		m.mu.Unlock()
		return CardBufferResult{}, err
	}
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	log.Info().
		Str("payment_id", p.ID).
		Str("order_id", orderID).
		Bool("requires_online_processing", requiresOnline).
		Msg("Card payment buffered")

	return CardBufferResult{PaymentID: p.ID, RequiresOnlineProcessing: requiresOnline}, nil
}

// BufferOrder appends an order document to the outbox for replay. Returns
// the operation ID.
func (m *Manager) BufferOrder(ctx context.Context, orderID string, doc json.RawMessage) (string, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	offline := m.conn.Offline()
	now := time.Now().UTC()
	op := &models.SyncOperation{
		ID:             uuid.New().String(),
		Type:           models.OpCreateOrder,
		Status:         models.OpStatusPending,
		IdempotencyKey: fmt.Sprintf("order_%s_%d", orderID, now.UnixMilli()),
		OrderID:        orderID,
		Payload:        types.JSONText(doc),
		CreatedAt:      now,
	}
	if err := m.repo.Add(op); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.ops[op.ID] = op
	m.opOrder = append(m.opOrder, op.ID)
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	log.Info().Str("operation_id", op.ID).Str("order_id", orderID).Bool("offline", offline).Msg("Order buffered")

	if !offline {
		go m.TriggerProcessing(context.WithoutCancel(ctx))
	}
	return op.ID, nil
}

// CancelBufferedPayment marks a pending payment CANCELLED. Returns false
// for an unknown payment or one already in a terminal state; a CAPTURED
// payment in particular is immutable. Cancellation only prevents future
// attempts: a capture already in flight still lands (see processing).
func (m *Manager) CancelBufferedPayment(paymentID string) (bool, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return false, err
	}
	p, ok := m.payments[paymentID]
	if !ok || p.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	op := m.ops[m.opByPayment[paymentID]]
	p.Status = models.PaymentCancelled
	op.Status = models.OpStatusCancelled
	op.NextAttemptAt = nil
	if err := m.persistLocked(op, p); err != nil {
		m.mu.Unlock()
		return false, err
	}
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	log.Info().Str("payment_id", paymentID).Msg("Buffered payment cancelled")
	return true, nil
}

// TriggerProcessing drains due pending operations sequentially in creation
// order, with a small delay between items. Re-entrant calls while a drain is
// already running are ignored.
func (m *Manager) TriggerProcessing(ctx context.Context) {
	m.mu.Lock()
	if !m.loaded || m.processing {
		m.mu.Unlock()
		return
	}
	m.processing = true
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	defer func() {
		m.mu.Lock()
		m.processing = false
		st, subs := m.snapshotLocked()
		m.mu.Unlock()
		m.fanout(st, subs)
	}()

	due, err := m.repo.GetDuePending(time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read due operations")
		return
	}
	if len(due) == 0 {
		return
	}
	log.Info().Int("count", len(due)).Msg("Processing pending operations")

	for i := range due {
		if ctx.Err() != nil || m.conn.Offline() {
			return
		}
		m.processOperation(ctx, due[i].ID)
		if i < len(due)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.opts.InterItemDelay):
			}
		}
	}
}

// processOperation attempts a single operation. State is re-read from the
// cache both before the gateway call and after it returns.
func (m *Manager) processOperation(ctx context.Context, opID string) {
	m.mu.Lock()
	op, ok := m.ops[opID]
	if !ok || op.Status != models.OpStatusPending {
		m.mu.Unlock()
		return
	}

	switch op.Type {
	case models.OpCreatePayment:
		paymentID := *op.PaymentID
		p := m.payments[paymentID]
		if p == nil || p.Status != models.PaymentPending {
			m.mu.Unlock()
			return
		}
		req := gateway.PaymentRequest{
			OrderID:        p.OrderID,
			PaymentMethod:  string(p.Method),
			Amount:         p.Amount,
			Currency:       p.Currency,
			IdempotencyKey: p.IdempotencyKey,
		}
		if p.PaymentIntentID != nil {
			req.StripePaymentIntentID = *p.PaymentIntentID
		}
		m.mu.Unlock()

		_, err := m.gw.CreatePayment(ctx, req)
		m.finishPaymentAttempt(opID, paymentID, err)

	case models.OpCreateOrder:
		req := gateway.OrderRequest{
			OrderID:        op.OrderID,
			IdempotencyKey: op.IdempotencyKey,
			Order:          json.RawMessage(op.Payload),
		}
		m.mu.Unlock()

		_, err := m.gw.CreateOrder(ctx, req)
		m.finishOrderAttempt(opID, err)

	default:
		opType := op.Type
		m.mu.Unlock()
		log.Warn().Str("operation_id", opID).Str("type", string(opType)).Msg("Unknown operation type, skipping")
	}
}

// finishPaymentAttempt applies a capture result. The record is re-read under
// the lock because a cancel may have interleaved with the network call.
func (m *Manager) finishPaymentAttempt(opID, paymentID string, callErr error) {
	now := time.Now().UTC()

	m.mu.Lock()
	m.lastAttempt = &now
	op := m.ops[opID]
	p := m.payments[paymentID]
	if op == nil || p == nil {
		m.mu.Unlock()
		return
	}

	if callErr == nil {
		if p.Status == models.PaymentCaptured {
			m.mu.Unlock()
			return
		}
		if p.Status == models.PaymentCancelled {
			// The cancel arrived while the capture was in flight. Money moved
			// server-side; record the capture rather than discarding it.
			m.recordErrLocked(fmt.Sprintf("payment %s: cancellation lost, in-flight capture succeeded", paymentID))
			log.Warn().Str("payment_id", paymentID).Msg("In-flight capture succeeded after cancellation, honoring capture")
		}
		p.Status = models.PaymentCaptured
		p.CapturedAt = &now
		p.FailureReason = nil
		op.Status = models.OpStatusSynced
		op.NextAttemptAt = nil
		op.FailureReason = nil
		if err := m.persistLocked(op, p); err != nil {
			log.Error().Err(err).Str("payment_id", paymentID).Msg("Failed to persist captured payment")
		}
		st, subs := m.snapshotLocked()
		m.mu.Unlock()
		m.fanout(st, subs)

		log.Info().Str("payment_id", paymentID).Msg("Payment captured")
		return
	}

	if p.Terminal() {
		// Cancelled or failed while the call was in flight and the call did
		// not succeed either; the terminal state stands.
		m.mu.Unlock()
		return
	}

	reason := callErr.Error()
	p.RetryCount++
	op.RetryCount++
	p.FailureReason = &reason
	op.FailureReason = &reason
	m.recordErrLocked(fmt.Sprintf("payment %s: %s", paymentID, reason))

	retryable := gateway.IsRetryable(callErr)
	if !retryable || p.RetryCount >= m.opts.MaxRetries {
		p.Status = models.PaymentFailed
		op.Status = models.OpStatusFailed
		op.NextAttemptAt = nil
		log.Error().
			Err(callErr).
			Str("payment_id", paymentID).
			Int("retry_count", p.RetryCount).
			Bool("retryable", retryable).
			Msg("Payment permanently failed")
	} else {
		delay := backoffDelay(p.RetryCount, m.opts.BaseBackoff, m.opts.MaxBackoff)
		next := now.Add(delay)
		op.NextAttemptAt = &next
		log.Warn().
			Err(callErr).
			Str("payment_id", paymentID).
			Int("retry_count", p.RetryCount).
			Dur("backoff", delay).
			Msg("Payment capture failed, will retry")
	}

	if err := m.persistLocked(op, p); err != nil {
		log.Error().Err(err).Str("payment_id", paymentID).Msg("Failed to persist payment attempt")
	}
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)
}

// finishOrderAttempt applies an order replay result.
func (m *Manager) finishOrderAttempt(opID string, callErr error) {
	now := time.Now().UTC()

	m.mu.Lock()
	m.lastAttempt = &now
	op := m.ops[opID]
	if op == nil || op.Terminal() {
		m.mu.Unlock()
		return
	}

	if callErr == nil {
		op.Status = models.OpStatusSynced
		op.NextAttemptAt = nil
		op.FailureReason = nil
	} else {
		reason := callErr.Error()
		op.RetryCount++
		op.FailureReason = &reason
		m.recordErrLocked(fmt.Sprintf("order %s: %s", op.OrderID, reason))
		if !gateway.IsRetryable(callErr) || op.RetryCount >= m.opts.MaxRetries {
			op.Status = models.OpStatusFailed
			op.NextAttemptAt = nil
		} else {
			next := now.Add(backoffDelay(op.RetryCount, m.opts.BaseBackoff, m.opts.MaxBackoff))
			op.NextAttemptAt = &next
		}
	}

	if err := m.repo.Update(op); err != nil {
		log.Error().Err(err).Str("operation_id", opID).Msg("Failed to persist order attempt")
	}
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)
}

// Reconcile corrects local state against the backend's record of truth.
// A payment left pending across a restart or a long offline period may have
// been recorded server-side even though the response never arrived; looking
// it up by idempotency key avoids re-sending a capture the backend already
// has.
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	if !m.loaded {
		m.mu.Unlock()
		return
	}
	type candidate struct {
		opID, paymentID, key string
	}
	var candidates []candidate
	for id, p := range m.payments {
		if p.Status != models.PaymentPending {
			continue
		}
		if p.PaymentIntentID == nil && p.RetryCount == 0 {
			continue
		}
		candidates = append(candidates, candidate{opID: m.opByPayment[id], paymentID: id, key: p.IdempotencyKey})
	}
	m.mu.Unlock()

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		resp, err := m.gw.LookupPayment(ctx, c.key)
		if err != nil {
			if err != gateway.ErrPaymentNotFound {
				log.Debug().Err(err).Str("payment_id", c.paymentID).Msg("Reconciliation lookup failed")
			}
			continue
		}

		now := time.Now().UTC()
		m.mu.Lock()
		op := m.ops[c.opID]
		p := m.payments[c.paymentID]
		if op == nil || p == nil || p.Status != models.PaymentPending {
			m.mu.Unlock()
			continue
		}
		p.Status = models.PaymentCaptured
		p.CapturedAt = &now
		p.FailureReason = nil
		op.Status = models.OpStatusSynced
		op.NextAttemptAt = nil
		op.FailureReason = nil
		if err := m.persistLocked(op, p); err != nil {
			log.Error().Err(err).Str("payment_id", c.paymentID).Msg("Failed to persist reconciled payment")
		}
		st, subs := m.snapshotLocked()
		m.mu.Unlock()
		m.fanout(st, subs)

		log.Info().
			Str("payment_id", c.paymentID).
			Str("remote_payment_id", resp.PaymentID).
			Msg("Payment reconciled: backend already recorded capture")
	}
}

// Status recomputes the aggregate read model from the cache.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// OnStatusChange subscribes to status updates. The current status is pushed
// immediately on registration. The returned function unsubscribes.
func (m *Manager) OnStatusChange(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs == nil {
		m.subs = make(map[int]func(Status))
	}
	m.subs[id] = fn
	st := m.statusLocked()
	m.mu.Unlock()

	m.fanout(st, []func(Status){fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// AllPayments returns every buffered payment in creation order.
func (m *Manager) AllPayments() []models.BufferedPaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BufferedPaymentIntent, 0, len(m.payments))
	for _, opID := range m.opOrder {
		op := m.ops[opID]
		if op == nil || op.Type != models.OpCreatePayment || op.PaymentID == nil {
			continue
		}
		if p := m.payments[*op.PaymentID]; p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Payment returns a single buffered payment by ID, or nil.
func (m *Manager) Payment(paymentID string) *models.BufferedPaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// RemoveTerminalBefore deletes terminal operations created before the cutoff
// from the store and drops them from the cache in the same critical section,
// so AllPayments and Status never serve rows the sweep already removed.
// PENDING operations are kept regardless of age. Returns the number of swept
// operations.
func (m *Manager) RemoveTerminalBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	n, err := m.repo.DeleteTerminalBefore(cutoff)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if n == 0 {
		m.mu.Unlock()
		return 0, nil
	}

	kept := m.opOrder[:0]
	for _, opID := range m.opOrder {
		op := m.ops[opID]
		if op != nil && op.Terminal() && op.CreatedAt.Before(cutoff) {
			if op.PaymentID != nil {
				delete(m.payments, *op.PaymentID)
				delete(m.opByPayment, *op.PaymentID)
			}
			delete(m.ops, opID)
			continue
		}
		kept = append(kept, opID)
	}
	m.opOrder = kept
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)

	return n, nil
}

// Cleanup detaches connectivity callbacks and drops subscribers. The manager
// must be re-initialized before further use.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	unsub := m.unsubConn
	m.unsubConn = nil
	m.subs = make(map[int]func(Status))
	m.loaded = false
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// --- internals ---

// newIntent builds a fresh PENDING payment. The idempotency key is derived
// here, once, and is reused verbatim for every capture attempt.
func (m *Manager) newIntent(orderID string, amount int64, method models.PaymentMethod, card *models.CardDetails, offline bool) *models.BufferedPaymentIntent {
	now := time.Now().UTC()
	return &models.BufferedPaymentIntent{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		Amount:         amount,
		Currency:       m.opts.Currency,
		Method:         method,
		CardDetails:    card,
		Status:         models.PaymentPending,
		CreatedAt:      now,
		IdempotencyKey: fmt.Sprintf("%s_payment_%s_%d", strings.ToLower(string(method)), orderID, now.UnixMilli()),
		Metadata:       map[string]any{"processedOffline": offline},
	}
}

// appendPaymentLocked wraps a payment into a sync operation, durably appends
// it and inserts both into the cache. Caller holds the mutex.
func (m *Manager) appendPaymentLocked(p *models.BufferedPaymentIntent) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	pid := p.ID
	ps := p.Status
	op := &models.SyncOperation{
		ID:             uuid.New().String(),
		Type:           models.OpCreatePayment,
		Status:         models.OpStatusPending,
		IdempotencyKey: p.IdempotencyKey,
		OrderID:        p.OrderID,
		PaymentID:      &pid,
		PaymentStatus:  &ps,
		Payload:        payload,
		CreatedAt:      p.CreatedAt,
	}
	if err := m.repo.Add(op); err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	m.ops[op.ID] = op
	m.payments[p.ID] = p
	m.opByPayment[p.ID] = op.ID
	m.opOrder = append(m.opOrder, op.ID)
	return nil
}

// persistLocked writes a payment mutation through to the store. Caller holds
// the mutex.
func (m *Manager) persistLocked(op *models.SyncOperation, p *models.BufferedPaymentIntent) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	op.Payload = payload
	ps := p.Status
	op.PaymentStatus = &ps
	return m.repo.Update(op)
}

func (m *Manager) statusLocked() Status {
	st := Status{
		Online:        !m.conn.Offline(),
		IsProcessing:  m.processing,
		LastAttemptAt: m.lastAttempt,
	}
	for _, p := range m.payments {
		switch p.Status {
		case models.PaymentPending:
			st.PendingPayments++
		case models.PaymentFailed:
			st.FailedPayments++
		}
	}
	st.Errors = append([]string(nil), m.recentErrs...)
	return st
}

// publish recomputes the status and notifies all subscribers.
func (m *Manager) publish() {
	m.mu.Lock()
	st, subs := m.snapshotLocked()
	m.mu.Unlock()
	m.fanout(st, subs)
}

// snapshotLocked captures the status plus the subscriber list so fanout can
// run outside the lock. Caller holds the mutex.
func (m *Manager) snapshotLocked() (Status, []func(Status)) {
	subs := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return m.statusLocked(), subs
}

// fanout notifies subscribers synchronously, isolating panics so one broken
// subscriber cannot block the rest.
func (m *Manager) fanout(st Status, subs []func(Status)) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Status subscriber panicked")
				}
			}()
			fn(st)
		}()
	}
}

func (m *Manager) recordErrLocked(msg string) {
	m.recentErrs = append(m.recentErrs, msg)
	if len(m.recentErrs) > m.opts.ErrorSample {
		m.recentErrs = m.recentErrs[len(m.recentErrs)-m.opts.ErrorSample:]
	}
}

// backoffDelay returns the delay before attempt retry+1: base*2^retry capped
// at max. With the default base of one second this is min(1s*2^retry, 60s).
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
