package service

import (
	"errors"
	"math"

	"delivery-tracking-service/internal/model"
)

var ErrUnknownAgentType = errors.New("tipo de agente sin tarifa de comisión")

// CommissionConfig son las tarifas vigentes, versionadas y cargadas desde
// la configuración (nada hardcodeado en los handlers).
//
// La plataforma agrega un markup (21%) sobre el precio base del vendedor,
// así que la comisión de la plataforma sale del total publicado:
//
//	platform_commission = total - total/(1+markup)
//
// y el agente cobra un porcentaje fijo de esa comisión según su tipo.
type CommissionConfig struct {
	Version    string
	MarkupRate float64
	Shares     map[model.AgentType]float64
}

func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		Version:    "2024-01",
		MarkupRate: 0.21,
		Shares: map[model.AgentType]float64{
			model.AgentPickupDelivery: 0.70,
			model.AgentFastDelivery:   0.50,
		},
	}
}

// PlatformCommission es el markup de la plataforma dentro del total.
// Ej: total=1000 con markup 21% -> 1000 - 1000/1.21 = 173.55.
func (c CommissionConfig) PlatformCommission(total float64) float64 {
	return roundMoney(total - total/(1+c.MarkupRate))
}

// AgentCommission calcula lo que cobra el agente por la orden.
// Un tipo sin tarifa es error, nunca un cero silencioso.
func (c CommissionConfig) AgentCommission(total float64, t model.AgentType) (float64, error) {
	share, ok := c.Shares[t]
	if !ok {
		return 0, ErrUnknownAgentType
	}
	raw := total - total/(1+c.MarkupRate)
	return roundMoney(raw * share), nil
}

func (c CommissionConfig) Share(t model.AgentType) float64 {
	return c.Shares[t]
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
