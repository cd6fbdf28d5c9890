package auth

import (
	"errors"
	"testing"
)

func TestSessionValid(t *testing.T) {
	full := Session{
		UserID:       "123456",
		ServiceToken: "token",
		SecurityKey:  "key",
		AgentID:      "abcdefghijklmnop",
	}
	if !full.Valid() {
		t.Error("complete session reported invalid")
	}

	partials := []func(s *Session){
		func(s *Session) { s.UserID = "" },
		func(s *Session) { s.ServiceToken = "" },
		func(s *Session) { s.SecurityKey = "" },
		func(s *Session) { s.AgentID = "" },
	}
	for i, clear := range partials {
		s := full
		clear(&s)
		if s.Valid() {
			t.Errorf("partial session %d reported valid", i)
		}
	}

	var nilSession *Session
	if nilSession.Valid() {
		t.Error("nil session reported valid")
	}
}

func TestSessionSerializeRoundTrip(t *testing.T) {
	s := &Session{
		UserID:       "123456",
		ServiceToken: "tok/en+with=padding",
		SecurityKey:  "AAECAwQFBgcICQoLDA0ODw==",
		AgentID:      "abcdefghijklmnop",
	}
	serialized, err := s.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseSession(serialized)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *s {
		t.Errorf("round trip mismatch: %+v != %+v", got, s)
	}
}

func TestParseSessionRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"garbage", "not json"},
		{"empty", ""},
		{"partial", `{"userId":"1","serviceToken":"t"}`},
		{"wrong_shape", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSession(tc.in)
			if !errors.Is(err, ErrBadSession) {
				t.Errorf("error = %v, want ErrBadSession", err)
			}
		})
	}
}

func TestNewAgentID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := NewAgentID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != 16 {
			t.Fatalf("agent id %q: length %d, want 16", id, len(id))
		}
		for _, r := range id {
			if r < 'a' || r > 'z' {
				t.Fatalf("agent id %q: character %q outside a-z", id, r)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate agent id %q", id)
		}
		seen[id] = struct{}{}
	}
}
