package cache

import "testing"

func TestKeyBuilder_Key(t *testing.T) {
	b := NewKeyBuilder("clinic")

	got := b.Key("contacts", "id:42", 7)
	want := "clinic:contacts:clinic_7:id:42"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestKeyBuilder_KeyIsIdempotent(t *testing.T) {
	b := NewKeyBuilder("clinic")

	first := b.Key("appointments", "id:9", 3)
	for i := 0; i < 5; i++ {
		if got := b.Key("appointments", "id:9", 3); got != first {
			t.Fatalf("key changed across calls: %q vs %q", got, first)
		}
	}
}

func TestKeyBuilder_Pattern(t *testing.T) {
	b := NewKeyBuilder("clinic")

	got := b.Pattern("contacts", 7)
	want := "clinic:contacts:clinic_7:*"
	if got != want {
		t.Errorf("Pattern() = %q, want %q", got, want)
	}
}

func TestKeyBuilder_PatternCoversKeys(t *testing.T) {
	b := NewKeyBuilder("clinic")

	key := b.Key("contacts", "list:all", 12)
	pattern := b.Pattern("contacts", 12)
	prefix := pattern[:len(pattern)-1]

	if len(key) < len(prefix) || key[:len(prefix)] != prefix {
		t.Errorf("key %q not covered by pattern %q", key, pattern)
	}

	otherClinic := b.Key("contacts", "list:all", 13)
	if otherClinic[:len(prefix)] == prefix {
		t.Errorf("pattern %q must not cover other clinics (%q)", pattern, otherClinic)
	}
}
