package repository

import (
	"context"
	"errors"
	"time"

	"delivery-tracking-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("orden no encontrada")
var ErrAgentNotFound = errors.New("agente no encontrado")

// Estados en los que la orden todavía se puede tomar.
var claimableStatuses = []model.OrderStatus{
	model.OrderPending,
	model.OrderConfirmed,
	model.OrderProcessing,
}

// Estados terminales de tracking: de acá no se sale.
var terminalTracking = []model.TrackingStatus{
	model.TrackingCompleted,
	model.TrackingCancelled,
	model.TrackingDeliveryIssue,
}

// Mongo implementation
type MongoOrderRepository struct {
	col *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{col: db.Collection("orders")}
}

func (m *MongoOrderRepository) Save(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	filter := bson.M{"order_id": o.OrderID}
	update := bson.M{"$set": o}
	opts := options.Update().SetUpsert(true)
	_, err := m.col.UpdateOne(ctx, filter, update, opts)
	return err
}

func (m *MongoOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	var res model.Order
	err := m.col.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	return &res, err
}

// FindClaimable devuelve las órdenes abiertas sin agente asignado.
func (m *MongoOrderRepository) FindClaimable(ctx context.Context) ([]*model.Order, error) {
	// {agent_id: nil} matchea tanto el campo ausente como null explícito.
	filter := bson.M{
		"agent_id": nil,
		"status":   bson.M{"$in": claimableStatuses},
	}
	cur, err := m.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.Order
	for cur.Next(ctx) {
		var v model.Order
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// Claim asigna la orden al agente con un único update condicional.
// El filtro exige agent_id nulo: si dos agentes llegan a la vez, uno solo
// matchea y el otro recibe ErrNotFound (quien llama decide si es 404 o 409).
func (m *MongoOrderRepository) Claim(ctx context.Context, orderID, agentID string, agentType model.AgentType, code string, ev model.TrackingEvent) (*model.Order, error) {
	filter := bson.M{
		"order_id": orderID,
		"agent_id": nil,
		"status":   bson.M{"$in": claimableStatuses},
	}
	update := bson.M{
		"$set": bson.M{
			"agent_id":        agentID,
			"agent_type":      agentType,
			"tracking_status": model.TrackingAssigned,
			"delivery_code":   code,
			"updated_at":      time.Now().UTC(),
		},
		"$push": bson.M{"tracking": ev},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var res model.Order
	err := m.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AdvanceTracking mueve el tracking_status de from a to para la orden
// asignada al agente. El filtro incluye el estado actual así dos requests
// concurrentes no aplican la misma transición dos veces.
func (m *MongoOrderRepository) AdvanceTracking(ctx context.Context, orderID, agentID string, from, to model.TrackingStatus, orderStatus model.OrderStatus, ev model.TrackingEvent) error {
	set := bson.M{
		"tracking_status": to,
		"updated_at":      time.Now().UTC(),
	}
	if orderStatus != "" {
		set["status"] = orderStatus
	}
	filter := bson.M{
		"order_id":        orderID,
		"agent_id":        agentID,
		"tracking_status": from,
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"tracking": ev},
	}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseSellerPayment libera el pago al vendedor una sola vez. Devuelve
// false si ya estaba liberado (requests reintentados no acreditan doble).
func (m *MongoOrderRepository) ReleaseSellerPayment(ctx context.Context, orderID string) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"order_id":                orderID,
		"payment.seller_released": false,
	}
	update := bson.M{
		"$set": bson.M{
			"payment.seller_released": true,
			"payment.released_at":     now,
			"updated_at":              now,
		},
	}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return r.ModifiedCount > 0, nil
}

// Complete cierra la orden entregada y deja registrado el fin del período
// de gracia.
func (m *MongoOrderRepository) Complete(ctx context.Context, orderID string, graceEnds time.Time, ev model.TrackingEvent) error {
	now := time.Now().UTC()
	filter := bson.M{
		"order_id":        orderID,
		"tracking_status": model.TrackingDelivered,
	}
	update := bson.M{
		"$set": bson.M{
			"tracking_status": model.TrackingCompleted,
			"status":          model.OrderCompleted,
			"grace_ends_at":   graceEnds,
			"completed_at":    now,
			"updated_at":      now,
		},
		"$push": bson.M{"tracking": ev},
	}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close manda la orden a un estado terminal (cancelled / delivery_issue)
// y libera el claim del agente si lo había.
func (m *MongoOrderRepository) Close(ctx context.Context, orderID string, reason model.TrackingStatus, ev model.TrackingEvent) error {
	filter := bson.M{
		"order_id":        orderID,
		"tracking_status": bson.M{"$nin": terminalTracking},
	}
	update := bson.M{
		"$set": bson.M{
			"tracking_status": reason,
			"status":          model.OrderCancelled,
			"updated_at":      time.Now().UTC(),
		},
		"$unset": bson.M{"agent_id": "", "agent_type": ""},
		"$push":  bson.M{"tracking": ev},
	}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type MongoAgentRepository struct {
	col *mongo.Collection
}

func NewMongoAgentRepository(db *mongo.Database) *MongoAgentRepository {
	return &MongoAgentRepository{col: db.Collection("agents")}
}

func (m *MongoAgentRepository) Save(ctx context.Context, a *model.Agent) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	filter := bson.M{"agent_id": a.AgentID}
	update := bson.M{"$set": a}
	opts := options.Update().SetUpsert(true)
	_, err := m.col.UpdateOne(ctx, filter, update, opts)
	return err
}

func (m *MongoAgentRepository) FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	var res model.Agent
	err := m.col.FindOne(ctx, bson.M{"agent_id": agentID}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAgentNotFound
	}
	return &res, err
}

func (m *MongoAgentRepository) SetStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	filter := bson.M{"agent_id": agentID}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (m *MongoAgentRepository) AddEarnings(ctx context.Context, agentID string, amount float64) error {
	filter := bson.M{"agent_id": agentID}
	update := bson.M{
		"$inc": bson.M{"total_earnings": amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Deactivate: baja lógica, nunca borramos agentes.
func (m *MongoAgentRepository) Deactivate(ctx context.Context, agentID string) error {
	filter := bson.M{"agent_id": agentID}
	update := bson.M{"$set": bson.M{
		"active":     false,
		"status":     model.AgentOffline,
		"updated_at": time.Now().UTC(),
	}}
	r, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if r.MatchedCount == 0 {
		return ErrAgentNotFound
	}
	return nil
}

type MongoEarningRepository struct {
	col *mongo.Collection
}

func NewMongoEarningRepository(db *mongo.Database) *MongoEarningRepository {
	return &MongoEarningRepository{col: db.Collection("earnings")}
}

// Record inserta la comisión solo si no existe todavía para el par
// (orden, agente). Con $setOnInsert un reintento no duplica ni recalcula.
// Devuelve true si el registro se insertó en esta llamada.
func (m *MongoEarningRepository) Record(ctx context.Context, e *model.Earning) (bool, error) {
	filter := bson.M{"order_id": e.OrderID, "agent_id": e.AgentID}
	update := bson.M{"$setOnInsert": e}
	opts := options.Update().SetUpsert(true)
	r, err := m.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return false, err
	}
	return r.UpsertedCount > 0, nil
}

func (m *MongoEarningRepository) FindByAgentSince(ctx context.Context, agentID string, since time.Time) ([]*model.Earning, error) {
	filter := bson.M{
		"agent_id":   agentID,
		"created_at": bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.Earning
	for cur.Next(ctx) {
		var v model.Earning
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}
