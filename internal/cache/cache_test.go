package cache

import "testing"

func TestGetSet(t *testing.T) {
	c := New[string, int](0, nil)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}

	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestGetOrCreate(t *testing.T) {
	c := New[string, int](0, nil)

	calls := 0
	create := func() (int, error) { calls++; return 42, nil }

	v, err := c.GetOrCreate("k", create)
	if err != nil || v != 42 {
		t.Fatalf("GetOrCreate = %d, %v; want 42, nil", v, err)
	}
	v, err = c.GetOrCreate("k", create)
	if err != nil || v != 42 {
		t.Fatalf("second GetOrCreate = %d, %v; want 42, nil", v, err)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestEvictionCallsOnEvict(t *testing.T) {
	evicted := map[string]int{}
	c := New[string, int](2, func(k string, v int) { evicted[k] = v })

	c.Set("a", 1)
	c.Set("b", 2)
	// Refresh "a" so "b" is oldest.
	c.Get("a")
	c.Set("c", 3)

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if v, ok := evicted["b"]; !ok || v != 2 {
		t.Errorf("expected b=2 evicted, got %v", evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("evicted entry still retrievable")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
}

func TestDelete(t *testing.T) {
	var evictedKey string
	c := New[string, int](0, func(k string, _ int) { evictedKey = k })

	c.Set("a", 1)
	if !c.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if evictedKey != "a" {
		t.Errorf("onEvict key = %q, want a", evictedKey)
	}
	if c.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
}

func TestClearEvictsAll(t *testing.T) {
	count := 0
	c := New[int, string](0, func(int, string) { count++ })

	c.Set(1, "x")
	c.Set(2, "y")
	c.Set(3, "z")
	c.Clear()

	if count != 3 {
		t.Errorf("onEvict called %d times, want 3", count)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}

func TestSetReplacesAndEvictsOld(t *testing.T) {
	var old []int
	c := New[string, int](0, func(_ string, v int) { old = append(old, v) })

	c.Set("k", 1)
	c.Set("k", 2)

	if len(old) != 1 || old[0] != 1 {
		t.Errorf("replaced value not evicted: %v", old)
	}
	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("Get(k) = %d, want 2", v)
	}
}

func TestKeys(t *testing.T) {
	c := New[string, int](0, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	keys := c.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() len = %d, want 2", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("Keys() = %v, want a and b", keys)
	}
}
