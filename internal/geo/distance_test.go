package geo

import (
	"math"
	"testing"
)

func TestHaversineMeters(t *testing.T) {
	// Un grado de longitud sobre el ecuador: ~111.19 km
	d := HaversineMeters(0, 0, 0, 1)
	if math.Abs(d-111195) > 200 {
		t.Fatalf("distancia inesperada: %f", d)
	}

	// Mismo punto: cero
	if d := HaversineMeters(-32.889, -68.845, -32.889, -68.845); d != 0 {
		t.Fatalf("mismo punto debería dar 0, dio %f", d)
	}

	// Simétrica
	a := HaversineMeters(-32.889, -68.845, -32.901, -68.823)
	b := HaversineMeters(-32.901, -68.823, -32.889, -68.845)
	if math.Abs(a-b) > 1e-6 {
		t.Fatalf("no es simétrica: %f vs %f", a, b)
	}
	if a < 1000 || a > 4000 {
		t.Fatalf("distancia Mendoza fuera de rango: %f", a)
	}
}
