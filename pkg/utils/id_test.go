package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateStreamID_Unique(t *testing.T) {
	a := GenerateStreamID("42", "sock-1", "")
	b := GenerateStreamID("42", "sock-1", "")
	if a == b {
		t.Fatalf("expected distinct ids for repeated generation, got %q twice", a)
	}
}

func TestGenerateStreamID_Shape(t *testing.T) {
	id := GenerateStreamID("42", "sock-1", "9f86d081-8a4c-4d3e-9b1a-aabbccddeeff")
	if !IsValidStreamID(id) {
		t.Fatalf("generated id %q does not validate", id)
	}
	if !strings.HasPrefix(id, "stream_42_sock-1_") {
		t.Errorf("unexpected prefix: %q", id)
	}
}

func TestParseStreamID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := GenerateStreamID("42", "sock-1", "")
	after := time.Now().Add(time.Second)

	parts, err := ParseStreamID(id)
	if err != nil {
		t.Fatalf("ParseStreamID(%q): %v", id, err)
	}
	if parts.ParticipantID != "42" {
		t.Errorf("ParticipantID = %q, want 42", parts.ParticipantID)
	}
	if parts.SocketID != "sock-1" {
		t.Errorf("SocketID = %q, want sock-1", parts.SocketID)
	}
	if parts.Timestamp.Before(before) || parts.Timestamp.After(after) {
		t.Errorf("Timestamp = %v outside [%v, %v]", parts.Timestamp, before, after)
	}
}

func TestParseStreamID_Malformed(t *testing.T) {
	for _, id := range []string{"", "stream_", "bogus", "stream_1_2_notanumber_x"} {
		if _, err := ParseStreamID(id); err == nil {
			t.Errorf("expected error for %q", id)
		}
	}
}
