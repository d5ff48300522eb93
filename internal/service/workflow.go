package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pesagate/internal/domain"
	"pesagate/internal/idempotency"
	"pesagate/internal/models"
	"pesagate/internal/repository"
	"pesagate/pkg/payment"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("pesagate/internal/service")

var ErrInvalidNotification = errors.New("notification is missing OrderTrackingId")

// OrderLedger persists orders. UpdateStatus returns repository.ErrStatusFinal for orders
// already COMPLETED or FAILED.
type OrderLedger interface {
	Create(o *models.PaymentOrder) error
	UpdateStatus(trackingID, status, payload string) error
}

type IPNLedger interface {
	Create(e *models.IPNEvent) error
}

// WorkflowDeps are the collaborators of PaymentWorkflow. Only Processor is required.
type WorkflowDeps struct {
	Processor payment.Processor
	Orders    OrderLedger
	IPNEvents IPNLedger
	Dedupe    idempotency.Store
	Notifier  *StatusNotifier
}

type WorkflowOptions struct {
	IPNURL              string
	IPNNotificationType string
	Currency            string
	CountryCode         string
	Description         string
	BillingLine1        string
	PollAttempts        int
	PollInterval        time.Duration
	Async               bool // return after submission and poll in the background
}

// PaymentRequest is what a client supplies to pay.
type PaymentRequest struct {
	Amount      float64
	Email       string
	Phone       string
	FirstName   string
	MiddleName  string
	LastName    string
	CallbackURL string
	Branch      string
}

// Resolution is the outcome of one submit-and-resolve run. Details is the raw submit response.
type Resolution struct {
	TrackingID        string
	MerchantReference string
	Status            payment.Status
	Details           json.RawMessage
}

// IPNNotification is the processor's callback for a status change.
type IPNNotification struct {
	TrackingID        string
	MerchantReference string
	NotificationType  string
}

// PaymentWorkflow runs token -> IPN registration -> order submission -> status polling.
type PaymentWorkflow struct {
	processor payment.Processor
	poller    *payment.StatusPoller
	orders    OrderLedger
	ipnEvents IPNLedger
	dedupe    idempotency.Store
	notifier  *StatusNotifier
	opts      WorkflowOptions

	ctx    context.Context // bounds background polls
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPaymentWorkflow(deps WorkflowDeps, opts WorkflowOptions) *PaymentWorkflow {
	ctx, cancel := context.WithCancel(context.Background())
	return &PaymentWorkflow{
		processor: deps.Processor,
		poller:    payment.NewStatusPoller(deps.Processor, opts.PollAttempts, opts.PollInterval),
		orders:    deps.Orders,
		ipnEvents: deps.IPNEvents,
		dedupe:    deps.Dedupe,
		notifier:  deps.Notifier,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SubmitAndResolve submits a payment and, in sync mode, polls until the status is terminal or
// the poll budget runs out. Token, registration and submission errors abort the run; polling never does.
func (w *PaymentWorkflow) SubmitAndResolve(ctx context.Context, req PaymentRequest) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "payment.submit_and_resolve")
	defer span.End()

	token, err := w.processor.Token(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}
	reg, err := w.processor.RegisterIPN(ctx, token, w.opts.IPNURL, w.opts.IPNNotificationType)
	if err != nil {
		return nil, failSpan(span, err)
	}
	order := payment.PaymentOrder{
		Currency:       w.opts.Currency,
		Amount:         req.Amount,
		Description:    w.opts.Description,
		CallbackURL:    req.CallbackURL,
		NotificationID: reg.IPNID,
		Branch:         req.Branch,
		Billing: payment.BillingAddress{
			Email:       req.Email,
			Phone:       req.Phone,
			CountryCode: w.opts.CountryCode,
			FirstName:   req.FirstName,
			MiddleName:  req.MiddleName,
			LastName:    req.LastName,
			Line1:       w.opts.BillingLine1,
		},
	}
	sub, err := w.processor.SubmitOrder(ctx, token, order)
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(
		attribute.String("pesapal.order_tracking_id", sub.TrackingID),
		attribute.String("pesapal.merchant_reference", sub.MerchantReference),
	)
	w.record(order, reg.IPNID, sub)

	res := &Resolution{
		TrackingID:        sub.TrackingID,
		MerchantReference: sub.MerchantReference,
		Status:            payment.StatusPending,
		Details:           sub.Raw,
	}
	if w.opts.Async {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			out := w.poller.Poll(w.ctx, token, sub.TrackingID)
			if !out.TimedOut {
				w.observe(context.WithoutCancel(w.ctx), sub.TrackingID, sub.MerchantReference, out.Status, out.Raw, domain.SourcePoll)
			}
		}()
		span.SetAttributes(attribute.String("payment.status", string(res.Status)))
		return res, nil
	}

	out := w.poller.Poll(ctx, token, sub.TrackingID)
	res.Status = out.Status
	span.SetAttributes(
		attribute.String("payment.status", string(out.Status)),
		attribute.Int("payment.poll_calls", out.Calls),
	)
	// PENDING after an exhausted or cancelled poll is a fallback, not an observation.
	if !out.TimedOut {
		w.observe(context.WithoutCancel(ctx), sub.TrackingID, sub.MerchantReference, out.Status, out.Raw, domain.SourcePoll)
	}
	return res, nil
}

// GetStatus is a single status lookup with a fresh token. The upstream payload is returned unmodified.
func (w *PaymentWorkflow) GetStatus(ctx context.Context, trackingID string) (*payment.StatusResult, error) {
	ctx, span := tracer.Start(ctx, "payment.get_status", trace.WithAttributes(attribute.String("pesapal.order_tracking_id", trackingID)))
	defer span.End()

	token, err := w.processor.Token(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}
	res, err := w.processor.GetTransactionStatus(ctx, token, trackingID)
	if err != nil {
		return nil, failSpan(span, err)
	}
	return res, nil
}

// RegisterIPN registers url (the configured IPN URL when empty) with the processor.
func (w *PaymentWorkflow) RegisterIPN(ctx context.Context, url, notificationType string) (*payment.IPNRegistration, error) {
	ctx, span := tracer.Start(ctx, "payment.register_ipn")
	defer span.End()

	if url == "" {
		url = w.opts.IPNURL
	}
	if notificationType == "" {
		notificationType = w.opts.IPNNotificationType
	}
	token, err := w.processor.Token(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}
	reg, err := w.processor.RegisterIPN(ctx, token, url, notificationType)
	if err != nil {
		return nil, failSpan(span, err)
	}
	return reg, nil
}

func (w *PaymentWorkflow) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	return w.processor.Token(ctx)
}

// HandleIPN resolves a processor callback to the order's current status. A callback repeating an
// already seen (order, status) pair is recorded as a duplicate and not fanned out again.
func (w *PaymentWorkflow) HandleIPN(ctx context.Context, n IPNNotification) (payment.Status, error) {
	ctx, span := tracer.Start(ctx, "payment.handle_ipn", trace.WithAttributes(attribute.String("pesapal.order_tracking_id", n.TrackingID)))
	defer span.End()

	if n.TrackingID == "" {
		return "", failSpan(span, ErrInvalidNotification)
	}
	res, err := w.GetStatus(ctx, n.TrackingID)
	if err != nil {
		return "", failSpan(span, err)
	}
	status := res.Status
	if status == "" {
		status = payment.StatusPending
	}

	duplicate := false
	if w.dedupe != nil {
		seen, err := w.dedupe.Seen(ctx, idempotency.Key(n.TrackingID, string(status)))
		if err != nil {
			log.Printf("[IPN] dedupe order_tracking_id=%s: %v", n.TrackingID, err)
		}
		duplicate = seen
	}
	span.SetAttributes(attribute.String("payment.status", string(status)), attribute.Bool("ipn.duplicate", duplicate))

	if w.ipnEvents != nil {
		ev := &models.IPNEvent{
			TrackingID:        n.TrackingID,
			MerchantReference: n.MerchantReference,
			NotificationType:  n.NotificationType,
			Status:            string(status),
			Duplicate:         duplicate,
		}
		if err := w.ipnEvents.Create(ev); err != nil {
			log.Printf("[IPN] record event order_tracking_id=%s: %v", n.TrackingID, err)
		}
	}
	if duplicate {
		log.Printf("[IPN] duplicate order_tracking_id=%s status=%s", n.TrackingID, status)
		return status, nil
	}
	w.observe(ctx, n.TrackingID, n.MerchantReference, status, res.Raw, domain.SourceIPN)
	return status, nil
}

// Close cancels background polls and waits for them to finish.
func (w *PaymentWorkflow) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *PaymentWorkflow) record(order payment.PaymentOrder, ipnID string, sub *payment.SubmitResult) {
	if w.orders == nil {
		return
	}
	o := &models.PaymentOrder{
		MerchantReference: sub.MerchantReference,
		TrackingID:        sub.TrackingID,
		Amount:            order.Amount,
		Currency:          order.Currency,
		Email:             order.Billing.Email,
		Phone:             order.Billing.Phone,
		Branch:            order.Branch,
		NotificationID:    ipnID,
		Status:            string(payment.StatusPending),
		SubmitResponse:    string(sub.Raw),
	}
	if err := w.orders.Create(o); err != nil {
		log.Printf("[WORKFLOW] ledger create order_tracking_id=%s: %v", sub.TrackingID, err)
	}
}

// observe stores a status in the ledger and fans it out. Orders the ledger already holds as
// COMPLETED or FAILED are left alone and not fanned out again.
func (w *PaymentWorkflow) observe(ctx context.Context, trackingID, ref string, status payment.Status, raw json.RawMessage, source string) {
	if w.orders != nil {
		err := w.orders.UpdateStatus(trackingID, string(status), string(raw))
		if errors.Is(err, repository.ErrStatusFinal) {
			log.Printf("[WORKFLOW] order_tracking_id=%s already final, ignoring status=%s source=%s", trackingID, status, source)
			return
		}
		if err != nil {
			log.Printf("[WORKFLOW] ledger update order_tracking_id=%s status=%s: %v", trackingID, status, err)
		}
	}
	log.Printf("[WORKFLOW] order_tracking_id=%s status=%s source=%s", trackingID, status, source)
	w.notifier.Notify(ctx, domain.StatusUpdate{
		TrackingID:        trackingID,
		MerchantReference: ref,
		Status:            string(status),
		Terminal:          status.IsTerminal(),
		Source:            source,
		ObservedAt:        time.Now().UTC(),
	})
}

func (w *PaymentWorkflow) String() string {
	mode := "sync"
	if w.opts.Async {
		mode = "async"
	}
	return fmt.Sprintf("PaymentWorkflow(mode=%s attempts=%d interval=%s)", mode, w.poller.Attempts, w.poller.Interval)
}
