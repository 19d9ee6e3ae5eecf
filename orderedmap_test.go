package symphonycore

import "testing"

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Set("c", IntValue(3))
	m.Set("a", IntValue(1))
	m.Set("b", IntValue(2))

	want := []string{"c", "a", "b"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("want %d keys, have %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d: want %q, have %q", i, want[i], got[i])
		}
	}
}

func TestOrderedMapUpdateKeepsPosition(t *testing.T) {
	m := NewOrderedMap()
	m.Set("a", IntValue(1))
	m.Set("b", IntValue(2))
	m.Set("a", IntValue(10))

	if got := m.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("updating a should not move it in iteration order, have %v", got)
	}
	v, ok := m.Get("a")
	if !ok || v.IntVal != 10 {
		t.Errorf("want updated value 10, have %v (ok=%v)", v, ok)
	}
}

func TestOrderedMapDelete(t *testing.T) {
	m := NewOrderedMap()
	m.Set("a", IntValue(1))
	m.Set("b", IntValue(2))
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("deleted key should no longer be present")
	}
	if got := m.Keys(); len(got) != 1 || got[0] != "b" {
		t.Errorf("want [b], have %v", got)
	}
}

func TestOrderedMapEqualIgnoresOrder(t *testing.T) {
	a := NewOrderedMap()
	a.Set("x", IntValue(1))
	a.Set("y", IntValue(2))

	b := NewOrderedMap()
	b.Set("y", IntValue(2))
	b.Set("x", IntValue(1))

	if !a.Equal(b) {
		t.Error("maps with the same entries in different insertion order should be equal")
	}
}

func TestOrderedMapClone(t *testing.T) {
	a := NewOrderedMap()
	a.Set("x", IntValue(1))
	b := a.Clone()
	b.Set("y", IntValue(2))
	if a.Len() != 1 {
		t.Errorf("cloning must not affect the original map, want len 1, have %d", a.Len())
	}
}
