package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-tracking-service/internal/dto"
	"delivery-tracking-service/internal/model"
	"delivery-tracking-service/internal/repository"
	"delivery-tracking-service/internal/service"
	"delivery-tracking-service/internal/testutil"
)

const grace = 48 * time.Hour

type fixture struct {
	svc      *service.DeliveryTrackingService
	orders   *testutil.MemoryOrderRepo
	agents   *testutil.MemoryAgentRepo
	earnings *testutil.MemoryEarningRepo
	notifier *testutil.FakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   testutil.NewMemoryOrderRepo(),
		agents:   testutil.NewMemoryAgentRepo(),
		earnings: testutil.NewMemoryEarningRepo(),
		notifier: &testutil.FakeNotifier{},
	}
	f.svc = service.NewDeliveryTrackingService(
		f.orders, f.agents, f.earnings, f.notifier,
		service.DefaultCommissionConfig(), grace,
	)
	return f
}

func (f *fixture) seedOrder(t *testing.T, orderID, buyerID string, total float64) {
	t.Helper()
	_, err := f.svc.InitOrder(context.Background(), dto.InitOrderRequest{
		OrderID:          orderID,
		BuyerID:          buyerID,
		SellerID:         "seller-1",
		Total:            total,
		PickupLocation:   &dto.GeoPointDTO{Lat: -32.889, Lng: -68.845},
		DeliveryLocation: &dto.GeoPointDTO{Lat: -32.901, Lng: -68.823},
	})
	require.NoError(t, err)
}

func (f *fixture) seedAgent(t *testing.T, agentID string, typ model.AgentType) {
	t.Helper()
	_, err := f.svc.RegisterAgent(context.Background(), agentID, "Agente "+agentID, string(typ))
	require.NoError(t, err)
}

// driveTo aplica las transiciones en orden hasta target inclusive.
func (f *fixture) driveTo(t *testing.T, orderID, agentID string, target model.TrackingStatus) {
	t.Helper()
	seq := []model.TrackingStatus{
		model.TrackingArrivedAtSeller,
		model.TrackingPickedUp,
		model.TrackingEnRoute,
		model.TrackingArrivedAtBuyer,
		model.TrackingDelivered,
	}
	for _, st := range seq {
		err := f.svc.UpdateTrackingStatus(context.Background(), orderID, agentID, string(st), "", nil)
		require.NoError(t, err, "transición a %s", st)
		if st == target {
			return
		}
	}
}

func TestClaimOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)

	res, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	assert.Equal(t, "agent-1", res.Order.AgentID)
	assert.Equal(t, model.TrackingAssigned, res.Order.TrackingStatus)
	assert.Len(t, res.DeliveryCode, 6)
	assert.Len(t, res.Order.Tracking, 2) // alta + claim

	// El agente queda ocupado
	a, err := f.agents.FindByAgentID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentBusy, a.Status)

	// Y el comprador se entera, con el código incluido
	got := f.notifier.ByEvent("order_claimed")
	require.Len(t, got, 1)
	assert.Equal(t, "buyer:buyer-1", got[0].Room)
}

func TestClaimOrder_SecondAgentGetsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	f.seedAgent(t, "agent-2", model.AgentFastDelivery)

	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	_, err = f.svc.ClaimOrder(ctx, "o-1", "agent-2")
	assert.ErrorIs(t, err, service.ErrAlreadyClaimed)

	// La orden sigue siendo de agent-1
	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", o.AgentID)
}

// Nunca más de un claim exitoso por orden, sin importar cuántos agentes
// lleguen a la vez.
func TestClaimOrder_ConcurrentAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)

	const n = 10
	for i := 0; i < n; i++ {
		f.seedAgent(t, fmt.Sprintf("agent-%d", i), model.AgentPickupDelivery)
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.ClaimOrder(ctx, "o-1", id)
			results <- err
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, service.ErrAlreadyClaimed)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestClaimOrder_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "manager-1", model.AgentPickupSiteManager)
	f.seedAgent(t, "agent-off", model.AgentPickupDelivery)
	require.NoError(t, f.svc.DeactivateAgent(ctx, "agent-off"))

	_, err := f.svc.ClaimOrder(ctx, "no-such-order", "manager-1")
	assert.ErrorIs(t, err, service.ErrForbidden) // los managers no reparten

	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err = f.svc.ClaimOrder(ctx, "no-such-order", "agent-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.ClaimOrder(ctx, "o-1", "agent-off")
	assert.ErrorIs(t, err, service.ErrAgentInactive)
}

func TestUpdateTrackingStatus_OnlyAssignedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	f.seedAgent(t, "agent-2", model.AgentFastDelivery)

	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-2", "arrived_at_seller", "", nil)
	assert.ErrorIs(t, err, service.ErrNotAssigned)
}

func TestUpdateTrackingStatus_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	// Estado inexistente
	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-1", "teleported", "", nil)
	assert.ErrorIs(t, err, service.ErrUnknownStatus)

	// No se pueden saltear pasos
	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-1", "en_route", "", nil)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	// Ni volver para atrás
	f.driveTo(t, "o-1", "agent-1", model.TrackingPickedUp)
	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-1", "arrived_at_seller", "", nil)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestUpdateTrackingStatus_CapturesLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	loc := &dto.GeoPointDTO{Lat: -32.889, Lng: -68.845}
	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-1", "arrived_at_seller", "llegué al local", loc)
	require.NoError(t, err)

	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	last := o.Tracking[len(o.Tracking)-1]
	require.NotNil(t, last.Location)
	assert.Equal(t, loc.Lat, last.Location.Lat)
	assert.Equal(t, "llegué al local", last.Notes)
	// El punto coincide con el pickup seedado: distancia ~0
	require.NotNil(t, last.DistanceM)
	assert.InDelta(t, 0, *last.DistanceM, 1)
}

func TestPickedUp_ReleasesSellerPaymentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	f.driveTo(t, "o-1", "agent-1", model.TrackingPickedUp)

	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, o.Payment.SellerReleased)
	assert.Equal(t, model.OrderShipped, o.Status)

	// Reintento del mismo picked_up: rebota y no vuelve a acreditar
	err = f.svc.UpdateTrackingStatus(ctx, "o-1", "agent-1", "picked_up", "", nil)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
	assert.Len(t, f.notifier.ByEvent("payment_released"), 1)

	// Y el guard del repo tampoco deja liberar dos veces
	released, err := f.orders.ReleaseSellerPayment(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestConfirmDelivery_WrongCodeNeverCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)
	f.driveTo(t, "o-1", "agent-1", model.TrackingDelivered)

	_, err = f.svc.ConfirmDelivery(ctx, "o-1", "agent-1", dto.ConfirmDeliveryRequest{
		DeliveryCode:     "000000",
		ConfirmedByBuyer: true,
	})
	assert.ErrorIs(t, err, service.ErrCodeMismatch)

	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.TrackingDelivered, o.TrackingStatus)

	// Sin comisión registrada
	res, err := f.svc.GetEarnings(ctx, "agent-1", "today")
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestConfirmDelivery_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	claim, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	// Todavía no está entregada
	_, err = f.svc.ConfirmDelivery(ctx, "o-1", "agent-1", dto.ConfirmDeliveryRequest{
		DeliveryCode:     claim.DeliveryCode,
		ConfirmedByBuyer: true,
	})
	assert.ErrorIs(t, err, service.ErrNotDelivered)

	f.driveTo(t, "o-1", "agent-1", model.TrackingDelivered)

	// Falta el ok del comprador
	_, err = f.svc.ConfirmDelivery(ctx, "o-1", "agent-1", dto.ConfirmDeliveryRequest{
		DeliveryCode: claim.DeliveryCode,
	})
	assert.ErrorIs(t, err, service.ErrNotConfirmed)
}

func TestConfirmDelivery_CommissionAndGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	claim, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)
	f.driveTo(t, "o-1", "agent-1", model.TrackingDelivered)

	res, err := f.svc.ConfirmDelivery(ctx, "o-1", "agent-1", dto.ConfirmDeliveryRequest{
		DeliveryCode:     claim.DeliveryCode,
		ConfirmedByBuyer: true,
		Notes:            "entregado en mano",
	})
	require.NoError(t, err)

	// total=1000 -> comisión plataforma 173.55 -> pickup-delivery 70%
	assert.Equal(t, 121.49, res.Commission)
	assert.WithinDuration(t, time.Now().Add(grace), res.GraceEndsAt, 5*time.Second)

	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.TrackingCompleted, o.TrackingStatus)
	assert.Equal(t, model.OrderCompleted, o.Status)
	require.NotNil(t, o.CompletedAt)

	// El agente vuelve a estar disponible con la comisión acumulada
	a, err := f.agents.FindByAgentID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentAvailable, a.Status)
	assert.Equal(t, 121.49, a.TotalEarnings)

	// Reintento: no duplica la comisión
	_, err = f.svc.ConfirmDelivery(ctx, "o-1", "agent-1", dto.ConfirmDeliveryRequest{
		DeliveryCode:     claim.DeliveryCode,
		ConfirmedByBuyer: true,
	})
	assert.ErrorIs(t, err, service.ErrNotDelivered)

	earned, err := f.svc.GetEarnings(ctx, "agent-1", "today")
	require.NoError(t, err)
	assert.Equal(t, 1, earned.Count)
	assert.Equal(t, 121.49, earned.TotalAmount)
	assert.Equal(t, 121.49, earned.PendingGrace) // la gracia recién arranca
	assert.Zero(t, earned.Payable)
}

func TestReportIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)

	// Un extraño no puede tocar la orden
	err = f.svc.ReportIssue(ctx, "o-1", "alguien", "buyer", "cancelled", "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	// Motivo inventado
	err = f.svc.ReportIssue(ctx, "o-1", "buyer-1", "buyer", "lost", "")
	assert.ErrorIs(t, err, service.ErrInvalidReason)

	// El comprador cancela: la orden queda terminal y el claim se suelta
	err = f.svc.ReportIssue(ctx, "o-1", "buyer-1", "buyer", "cancelled", "me arrepentí")
	require.NoError(t, err)

	o, err := f.orders.FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.TrackingCancelled, o.TrackingStatus)
	assert.Empty(t, o.AgentID)

	a, err := f.agents.FindByAgentID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentAvailable, a.Status)

	// Terminal es terminal
	err = f.svc.ReportIssue(ctx, "o-1", "buyer-1", "buyer", "delivery_issue", "")
	assert.ErrorIs(t, err, service.ErrFinalState)
}

func TestGetHistory_OrderAndPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "o-1", "buyer-1", 1000)
	f.seedAgent(t, "agent-1", model.AgentPickupDelivery)
	_, err := f.svc.ClaimOrder(ctx, "o-1", "agent-1")
	require.NoError(t, err)
	f.driveTo(t, "o-1", "agent-1", model.TrackingDelivered)

	res, err := f.svc.GetHistory(ctx, "o-1", "buyer-1", "buyer", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Total) // alta + claim + 5 transiciones

	// Siempre en orden de creación
	for i := 1; i < len(res.Events); i++ {
		assert.False(t, res.Events[i].Timestamp.Before(res.Events[i-1].Timestamp))
	}
	assert.Equal(t, model.TrackingUnassigned, res.Events[0].Status)
	assert.Equal(t, model.TrackingDelivered, res.Events[len(res.Events)-1].Status)

	// Paginado
	page2, err := f.svc.GetHistory(ctx, "o-1", "buyer-1", "buyer", 2, 3)
	require.NoError(t, err)
	assert.Len(t, page2.Events, 3)
	assert.Equal(t, res.Events[3].EventID, page2.Events[0].EventID)

	// Un tercero no ve el historial ajeno
	_, err = f.svc.GetHistory(ctx, "o-1", "otro", "buyer", 1, 10)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestGetEarnings_InvalidPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetEarnings(context.Background(), "agent-1", "decade")
	assert.ErrorIs(t, err, service.ErrInvalidPeriod)
}

// Escenario completo: claim -> seis estados -> confirmación con código
// correcto -> historial ordenado y earnings al día.
func TestFullDeliveryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-42", "buyer-7", 1000)
	f.seedAgent(t, "agent-A", model.AgentFastDelivery)

	claim, err := f.svc.ClaimOrder(ctx, "order-42", "agent-A")
	require.NoError(t, err)

	f.driveTo(t, "order-42", "agent-A", model.TrackingDelivered)

	res, err := f.svc.ConfirmDelivery(ctx, "order-42", "agent-A", dto.ConfirmDeliveryRequest{
		DeliveryCode:     claim.DeliveryCode,
		ConfirmedByBuyer: true,
	})
	require.NoError(t, err)
	// fast-delivery cobra el 50% de la comisión de la plataforma
	assert.Equal(t, 86.78, res.Commission)

	hist, err := f.svc.GetHistory(ctx, "order-42", "agent-A", "agent", 1, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hist.Total, 6)
	assert.Equal(t, model.TrackingCompleted, hist.Events[len(hist.Events)-1].Status)

	earned, err := f.svc.GetEarnings(ctx, "agent-A", "week")
	require.NoError(t, err)
	require.Equal(t, 1, earned.Count)
	assert.Equal(t, 86.78, earned.TotalAmount)
	assert.Equal(t, "order-42", earned.Earnings[0].OrderID)
	assert.Equal(t, 173.55, earned.Earnings[0].PlatformCommission)
}
