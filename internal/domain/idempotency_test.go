package domain

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestParseIdempotencyKey_Valid(t *testing.T) {
	for _, raw := range []string{
		"a",
		"abc123",
		"A-b_c.d~e:f",
		strings.Repeat("k", MaxIdempotencyKeyLen), // exactly at the cap
	} {
		k, err := ParseIdempotencyKey(raw)
		if err != nil {
			t.Fatalf("ParseIdempotencyKey(%q): %v", raw, err)
		}
		if k.String() != raw {
			t.Fatalf("String() = %q, want %q", k.String(), raw)
		}
	}
}

func TestParseIdempotencyKey_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		strings.Repeat("k", MaxIdempotencyKeyLen+1),
		"has space",
		"new\nline",
		"ctl\x00char",
		"emojié", // outside the token alphabet
	} {
		if _, err := ParseIdempotencyKey(raw); !errors.Is(err, ErrInvalidIdempotencyKey) {
			t.Fatalf("ParseIdempotencyKey(%q): got err=%v, want ErrInvalidIdempotencyKey", raw, err)
		}
	}
}

func TestIdempotencySaga_PlaceholderIsNotCompleted(t *testing.T) {
	s := &IdempotencySaga{UserID: "u1", IdempotencyKey: "k1"}
	if s.Completed() {
		t.Fatalf("placeholder should not be completed")
	}
	resp, err := s.Response()
	if err != nil || resp != nil {
		t.Fatalf("placeholder Response() = (%v, %v), want (nil, nil)", resp, err)
	}
}

func TestIdempotencySaga_ResponseRoundTrip_PreservesHeaderOrder(t *testing.T) {
	headers := []HeaderPair{
		{Name: "Location", Value: "/admin/newsletter"},
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "X-Issue-ID", Value: "id-1"},
	}
	enc, err := EncodeHeaders(headers)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}

	status := http.StatusSeeOther
	s := &IdempotencySaga{
		UserID:          "u1",
		IdempotencyKey:  "k1",
		ResponseStatus:  &status,
		ResponseHeaders: enc,
		ResponseBody:    []byte("accepted\n"),
	}
	if !s.Completed() {
		t.Fatalf("saga with status should be completed")
	}

	resp, err := s.Response()
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	if resp.Status != http.StatusSeeOther {
		t.Fatalf("Status = %d, want 303", resp.Status)
	}
	if string(resp.Body) != "accepted\n" {
		t.Fatalf("Body = %q", resp.Body)
	}
	if len(resp.Headers) != len(headers) {
		t.Fatalf("got %d headers, want %d", len(resp.Headers), len(headers))
	}
	for i := range headers {
		if resp.Headers[i] != headers[i] {
			t.Fatalf("header %d = %+v, want %+v (order must survive the round trip)", i, resp.Headers[i], headers[i])
		}
	}
}

func TestIdempotencySaga_Response_CorruptHeaders(t *testing.T) {
	status := 200
	s := &IdempotencySaga{
		ResponseStatus:  &status,
		ResponseHeaders: []byte("{not json"),
	}
	if _, err := s.Response(); err == nil {
		t.Fatalf("expected error for corrupt header JSON")
	}
}
