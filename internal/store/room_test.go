package store

import "testing"

func TestRoomGetOrCreateIsLazyAndIdempotent(t *testing.T) {
	r := NewRoom("room-1")
	if _, ok := r.Get("chat"); ok {
		t.Fatalf("expected no stream before first reference")
	}

	s1 := r.GetOrCreate("chat")
	s2 := r.GetOrCreate("chat")
	if s1 != s2 {
		t.Fatalf("expected GetOrCreate to return the same stream for the same key")
	}
	if r.StreamCount() != 1 {
		t.Fatalf("expected one stream, got %d", r.StreamCount())
	}
}

func TestRoomNewKeyListenerFiresOnlyForFirstReference(t *testing.T) {
	r := NewRoom("room-1")
	notified := 0
	r.AddNewKeyListener(1, func(key string, s *Stream) { notified++ })

	r.GetOrCreate("a")
	r.GetOrCreate("a") // second reference, same key: no new notification
	r.GetOrCreate("b")

	if notified != 2 {
		t.Fatalf("expected 2 new-key notifications, got %d", notified)
	}
}

func TestRoomRemoveNewKeyListenerIsIdempotent(t *testing.T) {
	r := NewRoom("room-1")
	r.AddNewKeyListener(1, func(string, *Stream) {})
	r.RemoveNewKeyListener(1)
	r.RemoveNewKeyListener(1) // must not panic

	notified := false
	r.AddNewKeyListener(2, func(string, *Stream) { notified = true })
	r.RemoveNewKeyListener(1)
	r.GetOrCreate("k")
	if !notified {
		t.Fatalf("expected remaining listener to still fire")
	}
}
