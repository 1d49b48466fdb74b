package acl

import (
	"testing"

	"github.com/streamtune/acl/oid"
)

func newCachedAcl(t *testing.T, id int64, identifier string) MutableAcl {
	t.Helper()
	o, err := oid.New("com.example.Document", identifier)
	if err != nil {
		t.Fatalf("oid.New: %v", err)
	}
	a, err := Hydrated(id, o, true, nil, NewStrategy(nil), AllowAll(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Hydrated: %v", err)
	}
	return a
}

func TestCachePutAndGetByIdentityAndID(t *testing.T) {
	c, err := NewCache(10)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := newCachedAcl(t, 1, "1")
	c.Put(a)

	got, ok := c.GetByIdentity(a.GetIdentity())
	if !ok || got != a {
		t.Fatalf("GetByIdentity: got %v, %v", got, ok)
	}
	got, ok = c.GetByID(1)
	if !ok || got != a {
		t.Fatalf("GetByID: got %v, %v", got, ok)
	}
}

func TestCacheEvictByIdentityAlsoDropsIDIndex(t *testing.T) {
	c, err := NewCache(10)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := newCachedAcl(t, 1, "1")
	c.Put(a)
	c.EvictByIdentity(a.GetIdentity())

	if _, ok := c.GetByIdentity(a.GetIdentity()); ok {
		t.Fatal("expected identity lookup to miss after eviction")
	}
	if _, ok := c.GetByID(1); ok {
		t.Fatal("expected id lookup to miss after identity-keyed eviction")
	}
}

func TestCacheEvictByID(t *testing.T) {
	c, err := NewCache(10)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := newCachedAcl(t, 7, "7")
	c.Put(a)
	c.EvictByID(7)

	if _, ok := c.GetByID(7); ok {
		t.Fatal("expected id lookup to miss after EvictByID")
	}
	if _, ok := c.GetByIdentity(a.GetIdentity()); ok {
		t.Fatal("expected identity lookup to also miss after EvictByID")
	}
}

func TestCacheClear(t *testing.T) {
	c, err := NewCache(10)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := newCachedAcl(t, 1, "1")
	b := newCachedAcl(t, 2, "2")
	c.Put(a)
	c.Put(b)
	c.Clear()

	if _, ok := c.GetByIdentity(a.GetIdentity()); ok {
		t.Fatal("expected a to be gone after Clear")
	}
	if _, ok := c.GetByID(2); ok {
		t.Fatal("expected b's id index to be gone after Clear")
	}
}

func TestCacheSizeBoundEvictsAndPrunesIDIndex(t *testing.T) {
	c, err := NewCache(1)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := newCachedAcl(t, 1, "1")
	b := newCachedAcl(t, 2, "2")
	c.Put(a)
	c.Put(b) // forces a's eviction under the size-1 bound

	if _, ok := c.GetByIdentity(a.GetIdentity()); ok {
		t.Fatal("expected a to have been LRU-evicted")
	}
	if _, ok := c.GetByID(1); ok {
		t.Fatal("expected a's id-index entry to be pruned by the eviction callback")
	}
	if _, ok := c.GetByID(2); !ok {
		t.Fatal("expected b to still be cached")
	}
}

func TestNewCacheDefaultsNonPositiveSize(t *testing.T) {
	if _, err := NewCache(0); err != nil {
		t.Fatalf("NewCache(0): %v", err)
	}
	if _, err := NewCache(-5); err != nil {
		t.Fatalf("NewCache(-5): %v", err)
	}
}
