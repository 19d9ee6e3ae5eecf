package symphonycore

import "testing"

func TestMeasurementBaseQuantity(t *testing.T) {
	m := Measurement{Quantity: 100, Exponent: -3, BaseUnit: "V"}
	if got := m.BaseQuantity(); got != 0.1 {
		t.Errorf("want 0.1, have %v", got)
	}
}

func TestMeasurementEqualIgnoresExponentChoice(t *testing.T) {
	a := Measurement{Quantity: 100, Exponent: -3, BaseUnit: "V"}
	b := NewMeasurement(0.1, "V")
	if !a.Equal(b) {
		t.Errorf("%v and %v should compare equal", a, b)
	}
}

func TestMeasurementEqualRequiresMatchingUnit(t *testing.T) {
	a := NewMeasurement(1, "V")
	b := NewMeasurement(1, "A")
	if a.Equal(b) {
		t.Error("measurements with different base units must not compare equal")
	}
}

func TestMeasurementIsPositive(t *testing.T) {
	if !NewMeasurement(10, "Hz").IsPositive() {
		t.Error("10 Hz should be positive")
	}
	if NewMeasurement(0, "Hz").IsPositive() {
		t.Error("0 Hz should not be positive")
	}
	if NewMeasurement(-10, "Hz").IsPositive() {
		t.Error("-10 Hz should not be positive")
	}
}

func TestConversionRegistry(t *testing.T) {
	reg := NewConversionRegistry()
	reg.Register("V", "mV", func(m Measurement) (Measurement, error) {
		return Measurement{Quantity: m.BaseQuantity() * 1000, BaseUnit: "mV"}, nil
	})
	out, err := reg.Convert(NewMeasurement(2, "V"), "mV")
	if err != nil {
		t.Fatal(err)
	}
	if out.BaseQuantity() != 2000 {
		t.Errorf("want 2000, have %v", out.BaseQuantity())
	}
	if _, err := reg.Convert(NewMeasurement(2, "V"), "A"); err == nil {
		t.Error("expected an error for an unregistered conversion")
	}
	reg.Clear()
	if _, err := reg.Convert(NewMeasurement(2, "V"), "mV"); err == nil {
		t.Error("expected Clear to remove previously registered conversions")
	}
}
