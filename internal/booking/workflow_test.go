package booking_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/qmatic"
	"github.com/example/cita-sniper/internal/session"
	"github.com/example/cita-sniper/internal/testutil"
)

var meta = reservation.ServiceMeta{PublicID: "svc-1", Name: "Legalizaciones", QPID: "7"}

func newWorkflow(t *testing.T, f *testutil.FakeQmatic, confirmAttempts int) *booking.Workflow {
	t.Helper()
	m, err := session.New(session.Options{
		RESTBase:            f.RESTBase(),
		UIBase:              f.UIBase(),
		BranchID:            "branch-1",
		Headers:             session.DefaultHeaders(f.Server.URL, f.UIBase()),
		TransportRetryDelay: time.Millisecond,
		Log:                 logger.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, m.Init(context.Background()))
	return &booking.Workflow{
		API:              qmatic.New(m, qmatic.Options{BranchID: "branch-1", ServiceID: "svc-1", Log: logger.Discard()}),
		Session:          m,
		Date:             "2025-12-15",
		ViolationRetries: 5,
		ViolationDelay:   time.Millisecond,
		ConfirmAttempts:  confirmAttempts,
		RetryDelay:       time.Millisecond,
		Log:              logger.Discard(),
	}
}

func confirmedIDs(f *testutil.FakeQmatic) []string {
	var ids []string
	for _, r := range f.Requests(testutil.EPConfirm) {
		parts := strings.Split(r.URL.Path, "/")
		ids = append(ids, parts[len(parts)-2])
	}
	return ids
}

func TestAttempt_Confirmed(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1")
	f.QueueConfirm(testutil.ConfirmReply{State: "CONFIRMED", Reference: "AB123"})
	w := newWorkflow(t, f, 4)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, "AB123", conf.Reference)
	assert.Equal(t, "CONFIRMED", conf.Status)
	assert.Equal(t, 1, f.Hits(testutil.EPCheckMultiple))
	assert.Equal(t, 1, f.Hits(testutil.EPMatchCustomer))
}

func TestAttempt_ReserveWithoutIDIsUnavailable(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("")
	w := newWorkflow(t, f, 4)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	assert.Nil(t, conf)
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
	assert.Equal(t, 1, f.Hits(testutil.EPReserve))
	assert.Zero(t, f.Hits(testutil.EPConfirm))
}

func TestAttempt_NeverReusesReservationAfterConfirmFailure(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1", "res-2", "res-3")
	f.QueueConfirm(
		testutil.ConfirmReply{Status: http.StatusInternalServerError},
		testutil.ConfirmReply{Status: http.StatusBadRequest},
		testutil.ConfirmReply{State: "CONFIRMED", Reference: "AB123"},
	)
	w := newWorkflow(t, f, 4)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	require.NoError(t, err)
	assert.Equal(t, "AB123", conf.Reference)
	assert.Equal(t, 3, f.Hits(testutil.EPReserve))
	assert.Equal(t, []string{"res-1", "res-2", "res-3"}, confirmedIDs(f))
}

func TestAttempt_Exhausted(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1", "res-2", "res-3")
	w := newWorkflow(t, f, 2)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	assert.Nil(t, conf)
	assert.ErrorIs(t, err, booking.ErrAttemptsExhausted)
	assert.Equal(t, 2, f.Hits(testutil.EPReserve))
	assert.Equal(t, []string{"res-1", "res-2"}, confirmedIDs(f))
}

func TestAttempt_ConfirmWithoutReferenceIsFailure(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1", "res-2")
	f.QueueConfirm(testutil.ConfirmReply{State: "PENDING"}, testutil.ConfirmReply{State: "CONFIRMED", Reference: "AB123"})
	w := newWorkflow(t, f, 2)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	require.NoError(t, err)
	assert.Equal(t, "AB123", conf.Reference)
	assert.Equal(t, []string{"res-1", "res-2"}, confirmedIDs(f))
}

func TestAttempt_ViolationResumesSameStep(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1")
	f.QueueConfirm(testutil.ConfirmReply{State: "CONFIRMED", Reference: "AB123"})
	w := newWorkflow(t, f, 4)
	inits := f.Hits(testutil.EPConfiguration)

	f.Violate(testutil.EPConfirm, 1)
	f.Violate(testutil.EPReserve, 1)
	conf, err := w.Attempt(context.Background(), "12:00", meta)
	require.NoError(t, err)
	assert.Equal(t, "AB123", conf.Reference)
	assert.Equal(t, 2, f.Hits(testutil.EPReserve), "violated reserve is repeated")
	assert.Equal(t, []string{"res-1", "res-1"}, confirmedIDs(f), "violated confirm resumes with the same reservation")
	assert.Equal(t, inits+2, f.Hits(testutil.EPConfiguration))
}

func TestAttempt_DiagnosticsAreNonFatal(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1")
	f.QueueConfirm(testutil.ConfirmReply{State: "CONFIRMED", Reference: "AB123"})
	f.Override(testutil.EPCheckMultiple, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	f.Override(testutil.EPMatchCustomer, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	w := newWorkflow(t, f, 4)

	conf, err := w.Attempt(context.Background(), "12:00", meta)
	require.NoError(t, err)
	assert.Equal(t, "AB123", conf.Reference)
}

func TestAttempt_ViolationBudgetEscalates(t *testing.T) {
	f := testutil.NewFakeQmatic()
	defer f.Close()
	f.QueueReserve("res-1")
	w := newWorkflow(t, f, 4)
	w.ViolationRetries = 2

	f.Violate(testutil.EPReserve, 5)
	_, err := w.Attempt(context.Background(), "12:00", meta)
	assert.ErrorIs(t, err, session.ErrSessionViolation)
	assert.Equal(t, 2, f.Hits(testutil.EPReserve))
}
