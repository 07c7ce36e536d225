package service

import "delivery-tracking-service/internal/model"

// Tabla de transiciones del tracking. Única fuente de verdad: acá se decide
// qué movimiento es válido, ningún handler re-valida por su cuenta.
// La secuencia es estrictamente hacia adelante, sin saltear pasos.
var nextTracking = map[model.TrackingStatus]model.TrackingStatus{
	model.TrackingUnassigned:      model.TrackingAssigned,
	model.TrackingAssigned:        model.TrackingArrivedAtSeller,
	model.TrackingArrivedAtSeller: model.TrackingPickedUp,
	model.TrackingPickedUp:        model.TrackingEnRoute,
	model.TrackingEnRoute:         model.TrackingArrivedAtBuyer,
	model.TrackingArrivedAtBuyer:  model.TrackingDelivered,
	model.TrackingDelivered:       model.TrackingCompleted,
}

// Estados terminales: completed por confirmación, cancelled/delivery_issue
// por reporte explícito. No hay transiciones automáticas por timeout.
var terminalTracking = map[model.TrackingStatus]bool{
	model.TrackingCompleted:     true,
	model.TrackingCancelled:     true,
	model.TrackingDeliveryIssue: true,
}

// Estados que el agente puede pedir vía PUT /orders/:orderId/status.
// assigned lo pone el claim y completed solo sale de confirm-delivery.
var agentStatuses = map[model.TrackingStatus]bool{
	model.TrackingArrivedAtSeller: true,
	model.TrackingPickedUp:        true,
	model.TrackingEnRoute:         true,
	model.TrackingArrivedAtBuyer:  true,
	model.TrackingDelivered:       true,
}

// CanTransition dice si to es alcanzable desde from en un paso.
func CanTransition(from, to model.TrackingStatus) bool {
	return nextTracking[from] == to
}

// IsTerminalTracking dice si el estado es final.
func IsTerminalTracking(s model.TrackingStatus) bool {
	return terminalTracking[s]
}

// ParseAgentStatus valida el estado que manda el agente en el body.
func ParseAgentStatus(s string) (model.TrackingStatus, error) {
	ts := model.TrackingStatus(s)
	if !agentStatuses[ts] {
		return "", ErrUnknownStatus
	}
	return ts, nil
}

// El status grueso de la orden acompaña a algunos hitos del tracking.
var orderStatusFor = map[model.TrackingStatus]model.OrderStatus{
	model.TrackingPickedUp:  model.OrderShipped,
	model.TrackingDelivered: model.OrderDelivered,
}
