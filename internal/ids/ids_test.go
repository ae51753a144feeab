package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	g := NewGenerator()
	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := New()
	ts, ok := Time(id)
	if !ok {
		t.Fatalf("Time(%q) failed", id)
	}
	if ts.Before(before) {
		t.Fatalf("embedded time %v earlier than %v", ts, before)
	}
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatalf("expected parse failure")
	}
}
