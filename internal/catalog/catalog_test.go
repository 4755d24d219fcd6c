package catalog

import "testing"

func TestCatalog(t *testing.T) {
	c := New()

	list := c.List()
	if len(list) != 4 {
		t.Fatalf("List() = %d plants, want 4", len(list))
	}
	for i, p := range list {
		if p.ID != i+1 {
			t.Errorf("List()[%d].ID = %d, want %d", i, p.ID, i+1)
		}
		if len(p.Optimal) == 0 {
			t.Errorf("plant %d has no optimal ranges", p.ID)
		}
	}

	if p := c.Default(); p.Name != "Tomato Plant" {
		t.Errorf("Default() = %q, want Tomato Plant", p.Name)
	}
	if _, ok := c.Get(99); ok {
		t.Error("Get(99) should not find a plant")
	}
	if p, ok := c.Get(3); !ok || p.Category != "Herb" {
		t.Errorf("Get(3) = %+v, %v", p, ok)
	}
}
