package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pesagate/config"
	"pesagate/internal/database"
	"pesagate/internal/domain"
	"pesagate/internal/idempotency"
	"pesagate/internal/models"
	"pesagate/internal/repository"
	"pesagate/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProcessor struct {
	mu          sync.Mutex
	tokenErr    error
	registerErr error
	submitErr   error
	statuses    []payment.Status
	calls       map[string]int
	lastOrder   payment.PaymentOrder
}

func newFakeProcessor(statuses ...payment.Status) *fakeProcessor {
	return &fakeProcessor{statuses: statuses, calls: map[string]int{}}
}

func (f *fakeProcessor) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProcessor) Token(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["token"]++
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}, nil
}

func (f *fakeProcessor) RegisterIPN(ctx context.Context, token *oauth2.Token, url, notificationType string) (*payment.IPNRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["register"]++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &payment.IPNRegistration{IPNID: "ipn-1", URL: url, NotificationType: notificationType}, nil
}

func (f *fakeProcessor) SubmitOrder(ctx context.Context, token *oauth2.Token, order payment.PaymentOrder) (*payment.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["submit"]++
	f.lastOrder = order
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &payment.SubmitResult{TrackingID: "abc123", MerchantReference: "AL-1", Raw: json.RawMessage(`{"order_tracking_id":"abc123"}`)}, nil
}

func (f *fakeProcessor) GetTransactionStatus(ctx context.Context, token *oauth2.Token, trackingID string) (*payment.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["status"]++
	st := payment.StatusPending
	if n := f.calls["status"]; n <= len(f.statuses) {
		st = f.statuses[n-1]
	}
	return &payment.StatusResult{Status: st, Raw: json.RawMessage(`{"status":"` + string(st) + `"}`)}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	created []*models.PaymentOrder
	updates []string
}

func (l *fakeLedger) Create(o *models.PaymentOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, o)
	return nil
}

func (l *fakeLedger) UpdateStatus(trackingID, status, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, trackingID+":"+status)
	return nil
}

type eventLedger struct {
	mu     sync.Mutex
	events []*models.IPNEvent
}

func (l *eventLedger) Create(e *models.IPNEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	updates []domain.StatusUpdate
	err     error
}

func (s *recordingSink) Publish(ctx context.Context, u domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.err
}

func (s *recordingSink) snapshot() []domain.StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StatusUpdate(nil), s.updates...)
}

func testOptions() WorkflowOptions {
	return WorkflowOptions{
		IPNURL:              "https://merchant.example/ipn",
		IPNNotificationType: "POST",
		Currency:            "UGX",
		CountryCode:         "UG",
		Description:         "Thanks For Using Al-Transfer",
		BillingLine1:        "Pesapal Limited",
		PollAttempts:        10,
		PollInterval:        time.Millisecond,
	}
}

func testRequest() PaymentRequest {
	return PaymentRequest{
		Amount:      50000,
		Email:       "jane@example.com",
		Phone:       "0700000000",
		FirstName:   "Jane",
		LastName:    "Doe",
		CallbackURL: "https://merchant.example/done",
	}
}

func TestSubmitAndResolve_EndToEnd(t *testing.T) {
	var statusCalls int32
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Auth/RequestToken":
			w.Write([]byte(`{"token":"tok-1","status":"200"}`))
		case "/URLSetup/RegisterIPN":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"url":"https://merchant.example/ipn","ipn_id":"ipn-42","status":"200"}`))
		case "/Transactions/SubmitOrderRequest":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			w.Write([]byte(`{"order_tracking_id":"abc123","merchant_reference":"AL-1","redirect_url":"https://pay.example/abc123","status":"200"}`))
		case "/Transactions/GetTransactionStatus":
			assert.Equal(t, "abc123", r.URL.Query().Get("orderTrackingId"))
			if atomic.AddInt32(&statusCalls, 1) == 1 {
				w.Write([]byte(`{"payment_status_description":"Pending","status":"200"}`))
				return
			}
			w.Write([]byte(`{"payment_status_description":"Completed","status":"200"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	proc := payment.NewPesapal(payment.PesapalOptions{BaseURL: srv.URL, ConsumerKey: "k", ConsumerSecret: "s", ReferencePrefix: "AL"})
	ledger := &fakeLedger{}
	sink := &recordingSink{}
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc, Orders: ledger, Notifier: NewStatusNotifier(sink)}, testOptions())
	t.Cleanup(wf.Close)

	res, err := wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.TrackingID)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.JSONEq(t, `{"order_tracking_id":"abc123","merchant_reference":"AL-1","redirect_url":"https://pay.example/abc123","status":"200"}`, string(res.Details))
	assert.Equal(t, int32(2), atomic.LoadInt32(&statusCalls))

	assert.Regexp(t, `^AL-\d+$`, submitted["id"])
	assert.Equal(t, "ipn-42", submitted["notification_id"])
	assert.Equal(t, "UGX", submitted["currency"])
	assert.EqualValues(t, 50000, submitted["amount"])

	require.Len(t, ledger.created, 1)
	assert.Equal(t, "PENDING", ledger.created[0].Status)
	assert.Equal(t, []string{"abc123:COMPLETED"}, ledger.updates)

	updates := sink.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, "COMPLETED", updates[0].Status)
	assert.True(t, updates[0].Terminal)
	assert.Equal(t, domain.SourcePoll, updates[0].Source)
}

func TestSubmitAndResolve_StageErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeProcessor)
		wantErr  error
		register int
		submit   int
	}{
		{"token", func(f *fakeProcessor) { f.tokenErr = payment.ErrAuth }, payment.ErrAuth, 0, 0},
		{"registration", func(f *fakeProcessor) {
			f.registerErr = &payment.UpstreamError{Kind: payment.ErrRegistration, StatusCode: 400, Body: "bad url"}
		}, payment.ErrRegistration, 1, 0},
		{"submission", func(f *fakeProcessor) {
			f.submitErr = &payment.UpstreamError{Kind: payment.ErrSubmission, StatusCode: 500, Body: "boom"}
		}, payment.ErrSubmission, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newFakeProcessor()
			tt.setup(proc)
			ledger := &fakeLedger{}
			wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc, Orders: ledger}, testOptions())
			defer wf.Close()

			res, err := wf.SubmitAndResolve(context.Background(), testRequest())
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.register, proc.count("register"))
			assert.Equal(t, tt.submit, proc.count("submit"))
			assert.Equal(t, 0, proc.count("status"))
			assert.Empty(t, ledger.created)
		})
	}
}

func TestSubmitAndResolve_PollBudgetExhausted(t *testing.T) {
	proc := newFakeProcessor(payment.StatusPending, payment.StatusInvalid)
	ledger := &fakeLedger{}
	sink := &recordingSink{}
	opts := testOptions()
	opts.PollAttempts = 4
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc, Orders: ledger, Notifier: NewStatusNotifier(sink)}, opts)
	defer wf.Close()

	res, err := wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, res.Status)
	assert.Equal(t, 4, proc.count("status"))
	assert.Empty(t, ledger.updates)
	assert.Empty(t, sink.snapshot())
}

func TestSubmitAndResolve_ShutdownKeepsStatusFromIPN(t *testing.T) {
	db, err := database.NewDB(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxIdleConns: 1, MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	orders := repository.NewPaymentRepository(db)

	proc := newFakeProcessor(payment.StatusPending, payment.StatusCompleted)
	sink := &recordingSink{}
	opts := testOptions()
	opts.Async = true
	opts.PollAttempts = 1000
	opts.PollInterval = time.Hour
	wf := NewPaymentWorkflow(WorkflowDeps{
		Processor: proc,
		Orders:    orders,
		Dedupe:    idempotency.NewMemoryStore(time.Hour),
		Notifier:  NewStatusNotifier(sink),
	}, opts)

	_, err = wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return proc.count("status") == 1 }, 2*time.Second, time.Millisecond)

	n := IPNNotification{TrackingID: "abc123", MerchantReference: "AL-1", NotificationType: "IPNCHANGE"}
	st, err := wf.HandleIPN(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, st)
	wf.Close()

	// a later lookup reporting PENDING must not reopen the order either
	st, err = wf.HandleIPN(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, st)

	got, err := orders.GetByTrackingID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", got.Status)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, got.LastStatusPayload)

	var statuses []string
	for _, u := range sink.snapshot() {
		statuses = append(statuses, u.Status)
	}
	assert.Equal(t, []string{"COMPLETED"}, statuses)
}

func TestSubmitAndResolve_UsesConfiguredOrderDefaults(t *testing.T) {
	proc := newFakeProcessor(payment.StatusFailed)
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc}, testOptions())
	defer wf.Close()

	res, err := wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Status)

	o := proc.lastOrder
	assert.Equal(t, "UGX", o.Currency)
	assert.Equal(t, "ipn-1", o.NotificationID)
	assert.Equal(t, "UG", o.Billing.CountryCode)
	assert.Equal(t, "Pesapal Limited", o.Billing.Line1)
	assert.Equal(t, "Thanks For Using Al-Transfer", o.Description)
}

func TestSubmitAndResolve_Async(t *testing.T) {
	proc := newFakeProcessor(payment.StatusPending, payment.StatusCompleted)
	sink := &recordingSink{}
	opts := testOptions()
	opts.Async = true
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc, Notifier: NewStatusNotifier(sink)}, opts)
	defer wf.Close()

	res, err := wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, res.Status)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "COMPLETED", sink.snapshot()[0].Status)
	assert.Equal(t, 2, proc.count("status"))
}

func TestClose_StopsBackgroundPolls(t *testing.T) {
	proc := newFakeProcessor()
	opts := testOptions()
	opts.Async = true
	opts.PollAttempts = 1000
	opts.PollInterval = time.Hour
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc}, opts)

	_, err := wf.SubmitAndResolve(context.Background(), testRequest())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		wf.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the background poll")
	}
}

func TestGetStatus(t *testing.T) {
	proc := newFakeProcessor(payment.StatusCompleted)
	ledger := &fakeLedger{}
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc, Orders: ledger}, testOptions())
	defer wf.Close()

	res, err := wf.GetStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(res.Raw))
	assert.Empty(t, ledger.updates)

	proc.tokenErr = payment.ErrAuth
	_, err = wf.GetStatus(context.Background(), "abc123")
	assert.ErrorIs(t, err, payment.ErrAuth)
}

func TestRegisterIPN_DefaultsToConfiguredURL(t *testing.T) {
	proc := newFakeProcessor()
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc}, testOptions())
	defer wf.Close()

	reg, err := wf.RegisterIPN(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.example/ipn", reg.URL)
	assert.Equal(t, "POST", reg.NotificationType)

	reg, err = wf.RegisterIPN(context.Background(), "https://other.example/ipn", "GET")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/ipn", reg.URL)
	assert.Equal(t, "GET", reg.NotificationType)
}

func TestHandleIPN_Dedupe(t *testing.T) {
	proc := newFakeProcessor(payment.StatusCompleted, payment.StatusCompleted)
	ledger := &fakeLedger{}
	events := &eventLedger{}
	sink := &recordingSink{}
	wf := NewPaymentWorkflow(WorkflowDeps{
		Processor: proc,
		Orders:    ledger,
		IPNEvents: events,
		Dedupe:    idempotency.NewMemoryStore(time.Hour),
		Notifier:  NewStatusNotifier(sink),
	}, testOptions())
	defer wf.Close()

	n := IPNNotification{TrackingID: "abc123", MerchantReference: "AL-1", NotificationType: "IPNCHANGE"}
	for i := 0; i < 2; i++ {
		st, err := wf.HandleIPN(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusCompleted, st)
	}

	assert.Equal(t, 2, proc.count("status"))
	require.Len(t, events.events, 2)
	assert.False(t, events.events[0].Duplicate)
	assert.True(t, events.events[1].Duplicate)
	assert.Equal(t, []string{"abc123:COMPLETED"}, ledger.updates)
	updates := sink.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, domain.SourceIPN, updates[0].Source)
}

func TestHandleIPN_Errors(t *testing.T) {
	proc := newFakeProcessor()
	wf := NewPaymentWorkflow(WorkflowDeps{Processor: proc}, testOptions())
	defer wf.Close()

	_, err := wf.HandleIPN(context.Background(), IPNNotification{})
	assert.ErrorIs(t, err, ErrInvalidNotification)
	assert.Equal(t, 0, proc.count("token"))

	proc.tokenErr = payment.ErrAuth
	_, err = wf.HandleIPN(context.Background(), IPNNotification{TrackingID: "abc123"})
	assert.ErrorIs(t, err, payment.ErrAuth)
}

func TestStatusNotifier_SinkErrorsDoNotStopFanOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	n := NewStatusNotifier(failing, nil, ok)

	n.Notify(context.Background(), domain.StatusUpdate{TrackingID: "abc123", Status: "COMPLETED"})
	assert.Len(t, failing.snapshot(), 1)
	assert.Len(t, ok.snapshot(), 1)

	var none *StatusNotifier
	none.Notify(context.Background(), domain.StatusUpdate{})
}
