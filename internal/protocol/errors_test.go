package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrInvalidID,
		ErrUnsupportedKind,
		ErrResourceExhausted,
		ErrStaleHost,
		ErrStaleReference,
		ErrBusy,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCode_UnwrapsChain(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("object 4: %w", InvalidID), ErrInvalidID},
		{fmt.Errorf("activate: %w", ResourceExhausted), ErrResourceExhausted},
		{UnsupportedKind, ErrUnsupportedKind},
		{errors.New("boom"), ErrInternal},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}
