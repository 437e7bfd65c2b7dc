package reservations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/payments"
)

func validInput() CreateInput {
	return CreateInput{Name: "Ana López", Email: "ana@example.com", Phone: "600000000"}
}

func TestCreatePaidOpensCheckoutAndStoresPending(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)

	res, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.SessionID == "" || res.URL == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(gw.created) != 1 {
		t.Fatalf("sessions created = %d", len(gw.created))
	}
	req := gw.created[0]
	if req.Email != "ana@example.com" || req.Name != "Ana López" || req.Phone != "600000000" || req.EventDate != "2025-03-15" {
		t.Errorf("session request = %+v", req)
	}

	stored, err := db.GetByPaymentID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("stored reservation: %v", err)
	}
	if stored.Status != models.ReservationPending || stored.Amount != 5000 || stored.InviteCode != nil {
		t.Errorf("stored = %+v", stored)
	}
	if !stored.EventDate.Equal(testEventDate) {
		t.Errorf("event date = %v", stored.EventDate)
	}
}

func TestCreateWithInviteCodeConfirmsWithoutPayment(t *testing.T) {
	db, gw := newFakeDB("ABCD-EFGH-JKLM"), newFakeGateway()
	svc := newTestService(db, gw, nil)

	in := validInput()
	in.InviteCode = " abcd-efgh-jklm "
	in.HasValidCode = true
	res, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(res.SessionID, models.FreePaymentPrefix) || res.URL != "" {
		t.Errorf("result = %+v", res)
	}
	if gw.createdCount() != 0 {
		t.Error("comped reservation must not open a checkout session")
	}
	if !db.codeUsed("ABCD-EFGH-JKLM") {
		t.Error("code should be marked used")
	}
	stored, _ := db.GetByPaymentID(context.Background(), res.SessionID)
	if stored == nil || stored.Status != models.ReservationConfirmed || stored.Amount != 0 {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.InviteCode == nil || *stored.InviteCode != "ABCD-EFGH-JKLM" {
		t.Errorf("invite code = %v", stored.InviteCode)
	}
}

func TestCreateWithUsedCodeFallsBackToPayment(t *testing.T) {
	for _, code := range []string{"USED-CODE-0001", "NOT-A-REAL-CODE"} {
		t.Run(code, func(t *testing.T) {
			db, gw := newFakeDB("USED-CODE-0001"), newFakeGateway()
			db.codes["USED-CODE-0001"].used = true
			db.codes["USED-CODE-0001"].usedBy = "first@example.com"
			svc := newTestService(db, gw, nil)

			in := validInput()
			in.InviteCode = code
			in.HasValidCode = true
			res, err := svc.Create(context.Background(), in)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if gw.createdCount() != 1 || res.URL == "" || res.SessionID != "cs_test_1" {
				t.Fatalf("expected checkout session, got %+v", res)
			}
			stored, err := db.GetByPaymentID(context.Background(), res.SessionID)
			if err != nil {
				t.Fatalf("stored reservation: %v", err)
			}
			if stored.Status != models.ReservationPending || stored.Amount != 5000 || stored.InviteCode != nil {
				t.Errorf("stored = %+v", stored)
			}
			if db.codes["USED-CODE-0001"].usedBy != "first@example.com" {
				t.Error("fallback must not touch the redeemed code")
			}
		})
	}
}

func TestCreateComped_InsertFailureLeavesCodeUnused(t *testing.T) {
	db, gw := newFakeDB("ABCD-EFGH-JKLM"), newFakeGateway()
	db.createErr = errDB
	svc := newTestService(db, gw, nil)

	in := validInput()
	in.InviteCode = "ABCD-EFGH-JKLM"
	in.HasValidCode = true
	_, err := svc.Create(context.Background(), in)
	if FailedStage(err) != StagePersist || !errors.Is(err, errDB) {
		t.Fatalf("err = %v", err)
	}
	if db.codeUsed("ABCD-EFGH-JKLM") {
		t.Error("code must stay redeemable when the reservation insert fails")
	}
}

func TestCreateEmptyCodeTakesPaymentPath(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)

	in := validInput()
	in.HasValidCode = true
	in.InviteCode = "   "
	res, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if gw.createdCount() != 1 || res.URL == "" {
		t.Errorf("expected checkout session, got %+v", res)
	}
}

func TestCreateCodeWithoutFlagTakesPaymentPath(t *testing.T) {
	db, gw := newFakeDB("ABCD-EFGH-JKLM"), newFakeGateway()
	svc := newTestService(db, gw, nil)

	in := validInput()
	in.InviteCode = "ABCD-EFGH-JKLM"
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if db.codeUsed("ABCD-EFGH-JKLM") {
		t.Error("code must not be consumed when the client did not validate it")
	}
	if gw.createdCount() != 1 {
		t.Error("expected checkout session")
	}
}

func TestCreateProviderFailureWritesNothing(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	gw.createErr = errors.New("payment provider error: card_declined")
	svc := newTestService(db, gw, nil)

	_, err := svc.Create(context.Background(), validInput())
	if FailedStage(err) != StagePaymentSession {
		t.Fatalf("err = %v", err)
	}
	if db.count() != 0 {
		t.Error("no reservation should be written when checkout fails")
	}
}

func TestCreatePaid_InsertFailureExpiresSession(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	db.createErr = errDB
	svc := newTestService(db, gw, nil)

	_, err := svc.Create(context.Background(), validInput())
	if FailedStage(err) != StagePersist {
		t.Fatalf("err = %v", err)
	}
	if len(gw.expired) != 1 || gw.expired[0] != "cs_test_1" {
		t.Errorf("expired = %v", gw.expired)
	}
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing name", CreateInput{Email: "a@example.com", Phone: "1"}, "name"},
		{"bad email", CreateInput{Name: "A", Email: "not-an-email", Phone: "1"}, "email"},
		{"blank phone", CreateInput{Name: "A", Email: "a@example.com", Phone: "  "}, "phone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, gw := newFakeDB(), newFakeGateway()
			_, err := newTestService(db, gw, nil).Create(context.Background(), tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if len(verr.Fields) != 1 || verr.Fields[0] != tc.field {
				t.Errorf("fields = %v, want [%s]", verr.Fields, tc.field)
			}
			if gw.createdCount() != 0 || db.count() != 0 {
				t.Error("validation failure must have no side effects")
			}
		})
	}
}

func TestCreateRetryReusesSession(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, &memGuard{entries: map[string]*payments.Session{}})

	first, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	in := validInput()
	in.Email = "ANA@example.com"
	second, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.SessionID != first.SessionID || second.URL != first.URL {
		t.Errorf("second = %+v, want reuse of %+v", second, first)
	}
	if gw.createdCount() != 1 || db.count() != 1 {
		t.Errorf("sessions = %d reservations = %d, want 1 each", gw.createdCount(), db.count())
	}
}

func TestCreateRetryAfterSessionClosedOpensNewCheckout(t *testing.T) {
	cases := map[string]func(gw *fakeGateway, id string){
		"paid":    func(gw *fakeGateway, id string) { gw.markPaid(id) },
		"expired": func(gw *fakeGateway, id string) { _ = gw.ExpireSession(context.Background(), id) },
	}
	for name, closeSession := range cases {
		t.Run(name, func(t *testing.T) {
			db, gw := newFakeDB(), newFakeGateway()
			svc := newTestService(db, gw, &memGuard{entries: map[string]*payments.Session{}})

			first, err := svc.Create(context.Background(), validInput())
			if err != nil {
				t.Fatalf("first Create: %v", err)
			}
			closeSession(gw, first.SessionID)

			second, err := svc.Create(context.Background(), validInput())
			if err != nil {
				t.Fatalf("second Create: %v", err)
			}
			if second.SessionID == first.SessionID || gw.createdCount() != 2 {
				t.Errorf("second = %+v, want a fresh checkout session", second)
			}
		})
	}
}

func TestCreateGuardFailureStillCreates(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, &memGuard{err: errors.New("redis down")})

	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if db.count() != 1 {
		t.Error("guard outage must not block reservations")
	}
}

func TestConcurrentRedemptionOfOneCode(t *testing.T) {
	db, gw := newFakeDB("ONLY-ONCE-CODE"), newFakeGateway()
	svc := newTestService(db, gw, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := validInput()
			in.InviteCode = "ONLY-ONCE-CODE"
			in.HasValidCode = true
			_, errs[i] = svc.Create(context.Background(), in)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("submission %d: %v", i, err)
		}
	}
	comped := 0
	for _, r := range db.byPayment {
		if r.Status == models.ReservationConfirmed {
			comped++
		}
	}
	if comped != 1 || gw.createdCount() != n-1 || db.count() != n {
		t.Errorf("comped = %d sessions = %d reservations = %d, want 1, %d, %d",
			comped, gw.createdCount(), db.count(), n-1, n)
	}
}

func TestVerify(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Verify(ctx, created.SessionID); !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("unpaid verify err = %v", err)
	}
	if r, _ := db.GetByPaymentID(ctx, created.SessionID); r.Status != models.ReservationPending {
		t.Errorf("status after unpaid verify = %s", r.Status)
	}

	gw.markPaid(created.SessionID)
	for i := 0; i < 2; i++ {
		r, err := svc.Verify(ctx, created.SessionID)
		if err != nil {
			t.Fatalf("verify #%d: %v", i+1, err)
		}
		if r.Status != models.ReservationConfirmed {
			t.Errorf("verify #%d status = %s", i+1, r.Status)
		}
	}

	if _, err := svc.Verify(ctx, " "); !errors.Is(err, ErrMissingSessionID) {
		t.Errorf("empty id err = %v", err)
	}
	if _, err := svc.Verify(ctx, "cs_unknown"); !errors.Is(err, payments.ErrSessionNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestVerifyPaidSessionWithoutReservation(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	gw.sessions["cs_orphan"] = &payments.Session{ID: "cs_orphan", PaymentStatus: payments.PaymentStatusPaid}
	svc := newTestService(db, gw, nil)

	if _, err := svc.Verify(context.Background(), "cs_orphan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyCompedSkipsProvider(t *testing.T) {
	db, gw := newFakeDB("ABCD-EFGH-JKLM"), newFakeGateway()
	gw.getErr = errors.New("provider must not be called")
	svc := newTestService(db, gw, nil)

	in := validInput()
	in.InviteCode = "ABCD-EFGH-JKLM"
	in.HasValidCode = true
	created, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := svc.Verify(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if r.Status != models.ReservationConfirmed {
		t.Errorf("status = %s", r.Status)
	}
}

func TestProviderEvents(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)
	ctx := context.Background()

	a, _ := svc.Create(ctx, validInput())
	in := validInput()
	in.Email = "luis@example.com"
	b, _ := svc.Create(ctx, in)

	if err := svc.ConfirmPaid(ctx, a.SessionID); err != nil {
		t.Fatalf("ConfirmPaid: %v", err)
	}
	if err := svc.CancelExpired(ctx, a.SessionID); err != nil {
		t.Fatalf("CancelExpired on confirmed: %v", err)
	}
	if r, _ := db.GetByPaymentID(ctx, a.SessionID); r.Status != models.ReservationConfirmed {
		t.Errorf("confirmed reservation changed to %s", r.Status)
	}

	if err := svc.CancelExpired(ctx, b.SessionID); err != nil {
		t.Fatalf("CancelExpired: %v", err)
	}
	if r, _ := db.GetByPaymentID(ctx, b.SessionID); r.Status != models.ReservationCancelled {
		t.Errorf("status = %s, want cancelled", r.Status)
	}

	if err := svc.ConfirmPaid(ctx, "cs_nobody"); err != nil {
		t.Errorf("unknown session should be ignored, got %v", err)
	}
	if err := svc.CancelExpired(ctx, "cs_nobody"); err != nil {
		t.Errorf("unknown session should be ignored, got %v", err)
	}
}

func TestReconcile(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)
	ctx := context.Background()

	open, _ := svc.Create(ctx, validInput())
	in := validInput()
	in.Email = "b@example.com"
	paid, _ := svc.Create(ctx, in)
	in.Email = "c@example.com"
	expired, _ := svc.Create(ctx, in)

	gw.markPaid(paid.SessionID)
	_ = gw.ExpireSession(ctx, expired.SessionID)

	cases := map[string]ReconcileOutcome{
		open.SessionID:    OutcomePending,
		paid.SessionID:    OutcomeConfirmed,
		expired.SessionID: OutcomeCancelled,
	}
	for id, want := range cases {
		got, err := svc.Reconcile(ctx, id)
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("Reconcile(%s) = %s, want %s", id, got, want)
		}
	}
	if r, _ := db.GetByPaymentID(ctx, expired.SessionID); r.Status != models.ReservationCancelled {
		t.Errorf("expired reservation status = %s", r.Status)
	}
}

func TestStalePending(t *testing.T) {
	db, gw := newFakeDB(), newFakeGateway()
	svc := newTestService(db, gw, nil)
	ctx := context.Background()

	created, _ := svc.Create(ctx, validInput())
	db.byPayment[created.SessionID].CreatedAt = time.Now().Add(-time.Hour)

	list, err := svc.StalePending(ctx, 15*time.Minute, 10)
	if err != nil {
		t.Fatalf("StalePending: %v", err)
	}
	if len(list) != 1 || list[0].PaymentID != created.SessionID {
		t.Errorf("stale = %+v", list)
	}
}

func TestSetStatus(t *testing.T) {
	db, gw := newFakeDB("ABCD-EFGH-JKLM"), newFakeGateway()
	svc := newTestService(db, gw, nil)
	ctx := context.Background()
	pending, _ := svc.Create(ctx, validInput())
	in := validInput()
	in.InviteCode = "ABCD-EFGH-JKLM"
	in.HasValidCode = true
	comped, _ := svc.Create(ctx, in)

	if _, err := svc.SetStatus(ctx, pending.SessionID, "refunded"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status err = %v", err)
	}
	if _, err := svc.SetStatus(ctx, pending.SessionID, models.ReservationConfirmed); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("confirm unpaid err = %v, want ErrStatusConflict", err)
	}
	if r, _ := db.GetByPaymentID(ctx, pending.SessionID); r.Status != models.ReservationPending {
		t.Errorf("status after rejected confirm = %s", r.Status)
	}

	r, err := svc.SetStatus(ctx, pending.SessionID, models.ReservationCancelled)
	if err != nil || r.Status != models.ReservationCancelled {
		t.Errorf("SetStatus = %+v, %v", r, err)
	}
	if r, err := svc.SetStatus(ctx, pending.SessionID, models.ReservationCancelled); err != nil || r.Status != models.ReservationCancelled {
		t.Errorf("repeated cancel = %+v, %v", r, err)
	}
	if _, err := svc.SetStatus(ctx, pending.SessionID, models.ReservationPending); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("reopen cancelled err = %v", err)
	}

	for _, status := range []models.ReservationStatus{models.ReservationCancelled, models.ReservationPending} {
		if _, err := svc.SetStatus(ctx, comped.SessionID, status); !errors.Is(err, ErrStatusConflict) {
			t.Errorf("confirmed -> %s err = %v, want ErrStatusConflict", status, err)
		}
	}
	if r, _ := db.GetByPaymentID(ctx, comped.SessionID); r.Status != models.ReservationConfirmed {
		t.Errorf("confirmed reservation moved to %s", r.Status)
	}

	if _, err := svc.SetStatus(ctx, "cs_nobody", models.ReservationCancelled); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}
