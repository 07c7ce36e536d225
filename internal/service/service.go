package service

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"delivery-tracking-service/internal/dto"
	"delivery-tracking-service/internal/geo"
	"delivery-tracking-service/internal/model"
	"delivery-tracking-service/internal/repository"
)

// Interfaces que debe implementar repository
type OrderRepository interface {
	Save(ctx context.Context, o *model.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*model.Order, error)
	FindClaimable(ctx context.Context) ([]*model.Order, error)
	Claim(ctx context.Context, orderID, agentID string, agentType model.AgentType, code string, ev model.TrackingEvent) (*model.Order, error)
	AdvanceTracking(ctx context.Context, orderID, agentID string, from, to model.TrackingStatus, orderStatus model.OrderStatus, ev model.TrackingEvent) error
	ReleaseSellerPayment(ctx context.Context, orderID string) (bool, error)
	Complete(ctx context.Context, orderID string, graceEnds time.Time, ev model.TrackingEvent) error
	Close(ctx context.Context, orderID string, reason model.TrackingStatus, ev model.TrackingEvent) error
}

type AgentRepository interface {
	Save(ctx context.Context, a *model.Agent) error
	FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error)
	SetStatus(ctx context.Context, agentID string, status model.AgentStatus) error
	AddEarnings(ctx context.Context, agentID string, amount float64) error
	Deactivate(ctx context.Context, agentID string) error
}

type EarningRepository interface {
	Record(ctx context.Context, e *model.Earning) (bool, error)
	FindByAgentSince(ctx context.Context, agentID string, since time.Time) ([]*model.Earning, error)
}

// Notifier manda eventos en tiempo real a la sesión del comprador
// (room, evento, payload). Siempre best-effort: si falla se loguea y listo,
// nunca tumba la operación principal.
type Notifier interface {
	Notify(room, event string, payload any) error
}

// Errores de negocio exportados (los usa el controller)
var (
	ErrForbidden          = errors.New("forbidden")
	ErrOrderAlreadyExists = errors.New("la orden ya fue inicializada previamente")
	ErrAlreadyClaimed     = errors.New("la orden ya fue tomada o no está disponible")
	ErrNotAssigned        = errors.New("la orden no está asignada a este agente")
	ErrInvalidTransition  = errors.New("transición de estado inválida")
	ErrFinalState         = errors.New("no se puede cambiar el estado de una orden en estado final")
	ErrUnknownStatus      = errors.New("estado de tracking desconocido")
	ErrCodeMismatch       = errors.New("código de entrega incorrecto")
	ErrNotDelivered       = errors.New("la orden todavía no figura como entregada")
	ErrNotConfirmed       = errors.New("falta la confirmación del comprador")
	ErrInvalidReason      = errors.New("motivo inválido: debe ser cancelled o delivery_issue")
	ErrInvalidPeriod      = errors.New("período inválido: today, week, month o year")
	ErrAgentInactive      = errors.New("el agente está desactivado")
	ErrAgentExists        = errors.New("el agente ya está registrado")
	ErrInvalidAgentStatus = errors.New("estado de agente inválido")
)

type DeliveryTrackingService struct {
	orders   OrderRepository
	agents   AgentRepository
	earnings EarningRepository
	notifier Notifier
	rates    CommissionConfig
	grace    time.Duration
}

func NewDeliveryTrackingService(orders OrderRepository, agents AgentRepository, earnings EarningRepository, n Notifier, rates CommissionConfig, grace time.Duration) *DeliveryTrackingService {
	return &DeliveryTrackingService{
		orders:   orders,
		agents:   agents,
		earnings: earnings,
		notifier: n,
		rates:    rates,
		grace:    grace,
	}
}

// InitOrder da de alta la orden en el store de tracking. Se invoca desde el
// consumer Rabbit (primario) o vía API para pruebas. Los precios de los
// items quedan congelados tal como vienen.
func (s *DeliveryTrackingService) InitOrder(ctx context.Context, req dto.InitOrderRequest) (*model.Order, error) {

	// 1. Primero preguntamos si ya existe
	existing, err := s.orders.FindByOrderID(ctx, req.OrderID)

	// 2. Si NO hay error (significa que ya existe), no hacemos nada
	if err == nil && existing != nil {
		return nil, ErrOrderAlreadyExists
	}

	// 3. Si da ErrNotFound, la creamos desde cero

	items := make([]model.OrderItem, 0, len(req.Items))
	total := req.Total
	for _, it := range req.Items {
		items = append(items, model.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	if total == 0 {
		for _, it := range items {
			total += it.Price * float64(it.Quantity)
		}
	}

	now := time.Now().UTC()
	o := &model.Order{
		OrderID:          req.OrderID,
		BuyerID:          req.BuyerID,
		SellerID:         req.SellerID,
		Total:            total,
		Status:           model.OrderPending,
		TrackingStatus:   model.TrackingUnassigned,
		PickupSiteID:     req.PickupSiteID,
		PickupLocation:   toGeoPoint(req.PickupLocation),
		DeliveryLocation: toGeoPoint(req.DeliveryLocation),
		Items:            items,
		Tracking: []model.TrackingEvent{
			newEvent(model.TrackingUnassigned, req.BuyerID, "Orden registrada para tracking", nil, nil),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	return o, s.orders.Save(ctx, o)
}

// ClaimOrder asigna la orden al agente que llama. La carrera entre dos
// agentes mirando la misma orden se resuelve en el update condicional del
// repositorio, no acá: nada de leer y después escribir.
func (s *DeliveryTrackingService) ClaimOrder(ctx context.Context, orderID, agentID string) (*dto.ClaimOrderResponse, error) {
	agent, err := s.agents.FindByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, ErrAgentInactive
	}
	// Solo los tipos con tarifa de comisión reparten órdenes.
	if _, ok := s.rates.Shares[agent.Type]; !ok {
		return nil, ErrForbidden
	}

	code := newDeliveryCode()
	ev := newEvent(model.TrackingAssigned, agentID, "Orden tomada por el agente", nil, nil)

	o, err := s.orders.Claim(ctx, orderID, agentID, agent.Type, code, ev)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// El update condicional no matcheó: o la orden no existe, o se
			// la ganó otro agente entre que la vimos y la pedimos.
			if _, ferr := s.orders.FindByOrderID(ctx, orderID); ferr != nil {
				return nil, ferr
			}
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	if err := s.agents.SetStatus(ctx, agentID, model.AgentBusy); err != nil {
		logrus.Warnf("[Tracking] No se pudo marcar busy al agente %s: %v", agentID, err)
	}

	s.notifyBuyer(o, "order_claimed", map[string]any{
		"orderId":        o.OrderID,
		"agentId":        agentID,
		"trackingStatus": o.TrackingStatus,
		"deliveryCode":   code,
	})

	return &dto.ClaimOrderResponse{Order: o, DeliveryCode: code}, nil
}

// UpdateTrackingStatus aplica una transición del agente asignado, con la
// tabla de transiciones como única validación. En picked_up se libera el
// pago al vendedor, una sola vez aunque el request se reintente.
func (s *DeliveryTrackingService) UpdateTrackingStatus(ctx context.Context, orderID, agentID, status, notes string, loc *dto.GeoPointDTO) error {
	target, err := ParseAgentStatus(status)
	if err != nil {
		return err
	}

	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.AgentID != agentID {
		return ErrNotAssigned
	}
	if IsTerminalTracking(o.TrackingStatus) {
		return ErrFinalState
	}
	if !CanTransition(o.TrackingStatus, target) {
		return ErrInvalidTransition
	}

	point := toGeoPoint(loc)
	ev := newEvent(target, agentID, notes, point, distanceTo(o, target, point))

	// El pago se libera antes de avanzar el tracking: si el update de abajo
	// falla, el reintento vuelve a pasar por acá y el guard condicional
	// evita la doble acreditación.
	if target == model.TrackingPickedUp {
		released, err := s.orders.ReleaseSellerPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if released {
			s.notify("seller:"+o.SellerID, "payment_released", map[string]any{
				"orderId": o.OrderID,
				"total":   o.Total,
			})
		} else {
			logrus.Infof("[Tracking] Pago de la orden %s ya estaba liberado, no se acredita de nuevo", orderID)
		}
	}

	if err := s.orders.AdvanceTracking(ctx, orderID, agentID, o.TrackingStatus, target, orderStatusFor[target], ev); err != nil {
		// El filtro no matcheó: alguien movió la orden en el medio.
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidTransition
		}
		return err
	}

	s.notifyBuyer(o, "tracking_updated", map[string]any{
		"orderId":        o.OrderID,
		"trackingStatus": target,
		"notes":          notes,
		"location":       point,
	})

	return nil
}

// ConfirmDelivery cierra la orden contra el código que entrega el comprador.
// Acá nace la comisión del agente y arranca el período de gracia.
func (s *DeliveryTrackingService) ConfirmDelivery(ctx context.Context, orderID, agentID string, req dto.ConfirmDeliveryRequest) (*dto.ConfirmDeliveryResponse, error) {
	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.AgentID != agentID {
		return nil, ErrNotAssigned
	}
	if o.TrackingStatus != model.TrackingDelivered {
		return nil, ErrNotDelivered
	}
	if !req.ConfirmedByBuyer {
		return nil, ErrNotConfirmed
	}
	if req.DeliveryCode != o.DeliveryCode {
		return nil, ErrCodeMismatch
	}

	amount, err := s.rates.AgentCommission(o.Total, o.AgentType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	graceEnds := now.Add(s.grace)

	// La comisión se registra antes de completar la orden: el upsert con
	// $setOnInsert garantiza un solo registro por (orden, agente), así que
	// un reintento no duplica ni recalcula.
	inserted, err := s.earnings.Record(ctx, &model.Earning{
		OrderID:            o.OrderID,
		AgentID:            agentID,
		AgentType:          o.AgentType,
		OrderTotal:         o.Total,
		PlatformCommission: s.rates.PlatformCommission(o.Total),
		ShareRate:          s.rates.Share(o.AgentType),
		Amount:             amount,
		Status:             model.EarningPendingGrace,
		GraceEndsAt:        graceEnds,
		CreatedAt:          now,
	})
	if err != nil {
		return nil, err
	}

	ev := newEvent(model.TrackingCompleted, agentID, req.Notes, nil, nil)
	if err := s.orders.Complete(ctx, orderID, graceEnds, ev); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Otro request completó la orden en el medio.
			return nil, ErrNotDelivered
		}
		return nil, err
	}

	if inserted {
		if err := s.agents.AddEarnings(ctx, agentID, amount); err != nil {
			logrus.Errorf("[Tracking] No se pudo acumular la comisión del agente %s: %v", agentID, err)
		}
	}
	if err := s.agents.SetStatus(ctx, agentID, model.AgentAvailable); err != nil {
		logrus.Warnf("[Tracking] No se pudo liberar al agente %s: %v", agentID, err)
	}

	s.notifyBuyer(o, "delivery_confirmed", map[string]any{
		"orderId":     o.OrderID,
		"graceEndsAt": graceEnds,
	})

	return &dto.ConfirmDeliveryResponse{
		OrderID:     o.OrderID,
		Status:      string(model.TrackingCompleted),
		GraceEndsAt: graceEnds,
		Commission:  amount,
	}, nil
}

// ReportIssue manda la orden a un estado terminal (cancelled o
// delivery_issue) desde cualquier estado no final y libera el claim.
func (s *DeliveryTrackingService) ReportIssue(ctx context.Context, orderID, actorID, role, reason, notes string) error {
	var target model.TrackingStatus
	switch reason {
	case string(model.TrackingCancelled):
		target = model.TrackingCancelled
	case string(model.TrackingDeliveryIssue):
		target = model.TrackingDeliveryIssue
	default:
		return ErrInvalidReason
	}

	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if !canActOnOrder(o, actorID, role) {
		return ErrForbidden
	}
	if IsTerminalTracking(o.TrackingStatus) {
		return ErrFinalState
	}

	ev := newEvent(target, actorID, notes, nil, nil)
	if err := s.orders.Close(ctx, orderID, target, ev); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFinalState
		}
		return err
	}

	// El claim se suelta: el agente vuelve a estar disponible.
	if o.AgentID != "" {
		if err := s.agents.SetStatus(ctx, o.AgentID, model.AgentAvailable); err != nil {
			logrus.Warnf("[Tracking] No se pudo liberar al agente %s: %v", o.AgentID, err)
		}
	}

	s.notifyBuyer(o, "order_issue", map[string]any{
		"orderId": o.OrderID,
		"reason":  reason,
		"notes":   notes,
	})

	return nil
}

// Getters

func (s *DeliveryTrackingService) GetOrder(ctx context.Context, orderID, actorID, role string) (*model.Order, error) {
	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canActOnOrder(o, actorID, role) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *DeliveryTrackingService) GetAvailableOrders(ctx context.Context) ([]*model.Order, error) {
	return s.orders.FindClaimable(ctx)
}

// GetHistory devuelve el historial de tracking paginado, siempre en orden
// de creación (los eventos son inmutables y se pushean al final).
func (s *DeliveryTrackingService) GetHistory(ctx context.Context, orderID, actorID, role string, page, limit int) (*dto.HistoryResponse, error) {
	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canActOnOrder(o, actorID, role) {
		return nil, ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	total := len(o.Tracking)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &dto.HistoryResponse{
		OrderID: o.OrderID,
		Page:    page,
		Limit:   limit,
		Total:   total,
		Events:  o.Tracking[start:end],
	}, nil
}

// GetEarnings agrega las comisiones del agente en el período pedido.
// payable/pending_grace se derivan contra el reloj al momento de leer.
func (s *DeliveryTrackingService) GetEarnings(ctx context.Context, agentID, period string) (*dto.EarningsResponse, error) {
	now := time.Now().UTC()
	from, err := periodStart(now, period)
	if err != nil {
		return nil, err
	}

	list, err := s.earnings.FindByAgentSince(ctx, agentID, from)
	if err != nil {
		return nil, err
	}

	res := &dto.EarningsResponse{
		Period:   period,
		From:     from,
		Count:    len(list),
		Earnings: list,
	}
	for _, e := range list {
		res.TotalAmount = roundMoney(res.TotalAmount + e.Amount)
		if e.Payable(now) {
			e.Status = model.EarningPayable
			res.Payable = roundMoney(res.Payable + e.Amount)
		} else {
			res.PendingGrace = roundMoney(res.PendingGrace + e.Amount)
		}
	}
	return res, nil
}

// Agentes

func (s *DeliveryTrackingService) RegisterAgent(ctx context.Context, agentID, name, agentType string) (*model.Agent, error) {
	existing, err := s.agents.FindByAgentID(ctx, agentID)
	if err == nil && existing != nil {
		return nil, ErrAgentExists
	}

	t := model.AgentType(agentType)
	switch t {
	case model.AgentFastDelivery, model.AgentPickupDelivery, model.AgentPickupSiteManager:
	case "":
		t = model.AgentPickupDelivery
	default:
		return nil, ErrUnknownAgentType
	}

	a := &model.Agent{
		AgentID: agentID,
		Name:    name,
		Type:    t,
		Status:  model.AgentAvailable,
		Active:  true,
	}
	return a, s.agents.Save(ctx, a)
}

func (s *DeliveryTrackingService) SetAgentStatus(ctx context.Context, agentID, status string) error {
	st := model.AgentStatus(status)
	switch st {
	case model.AgentAvailable, model.AgentBusy, model.AgentOffline:
	default:
		return ErrInvalidAgentStatus
	}
	return s.agents.SetStatus(ctx, agentID, st)
}

func (s *DeliveryTrackingService) DeactivateAgent(ctx context.Context, agentID string) error {
	return s.agents.Deactivate(ctx, agentID)
}

// Helpers

func (s *DeliveryTrackingService) notifyBuyer(o *model.Order, event string, payload any) {
	s.notify("buyer:"+o.BuyerID, event, payload)
}

func (s *DeliveryTrackingService) notify(room, event string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(room, event, payload); err != nil {
		logrus.Warnf("[Tracking] No se pudo notificar %s a %s: %v", event, room, err)
	}
}

func canActOnOrder(o *model.Order, actorID, role string) bool {
	if role == "admin" {
		return true
	}
	if o.BuyerID == actorID {
		return true
	}
	return o.AgentID != "" && o.AgentID == actorID
}

func newEvent(status model.TrackingStatus, actorID, notes string, loc *model.GeoPoint, distanceM *float64) model.TrackingEvent {
	return model.TrackingEvent{
		EventID:   uuid.NewString(),
		Status:    status,
		Notes:     notes,
		ActorID:   actorID,
		Location:  loc,
		DistanceM: distanceM,
		Timestamp: time.Now().UTC(),
	}
}

// newDeliveryCode genera el código de 6 dígitos que recibe el comprador.
func newDeliveryCode() string {
	const digits = "0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand no debería fallar; si pasa, mejor caer acá que
		// repartir códigos predecibles.
		panic(err)
	}
	for i := range b {
		b[i] = digits[int(b[i])%len(digits)]
	}
	return string(b)
}

// distanceTo calcula cuán lejos quedó el agente del punto que tocaba en
// esta transición (vendedor al retirar, comprador al entregar).
func distanceTo(o *model.Order, target model.TrackingStatus, loc *model.GeoPoint) *float64 {
	if loc == nil {
		return nil
	}
	var waypoint *model.GeoPoint
	switch target {
	case model.TrackingArrivedAtSeller, model.TrackingPickedUp:
		waypoint = o.PickupLocation
	default:
		waypoint = o.DeliveryLocation
	}
	if waypoint == nil {
		return nil
	}
	d := geo.HaversineMeters(loc.Lat, loc.Lng, waypoint.Lat, waypoint.Lng)
	return &d
}

func toGeoPoint(in *dto.GeoPointDTO) *model.GeoPoint {
	if in == nil {
		return nil
	}
	return &model.GeoPoint{Lat: in.Lat, Lng: in.Lng}
}

func periodStart(now time.Time, period string) (time.Time, error) {
	switch period {
	case "", "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "month":
		return now.AddDate(0, -1, 0), nil
	case "year":
		return now.AddDate(-1, 0, 0), nil
	}
	return time.Time{}, ErrInvalidPeriod
}
