package protocol_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/omochice/chat-session/pkg/protocol"
)

func TestValidateClose(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		reason  string
		wantErr bool
	}{
		{name: "normal closure", code: protocol.CloseNormal, reason: "bye"},
		{name: "unsupported data", code: protocol.CloseUnsupportedData},
		{name: "try again later", code: protocol.CloseTryAgainLater},
		{name: "application code", code: 4000, reason: "done"},
		{name: "reserved no status", code: protocol.CloseNoStatus, wantErr: true},
		{name: "reserved abnormal", code: protocol.CloseAbnormal, wantErr: true},
		{name: "reserved tls", code: 1015, wantErr: true},
		{name: "unassigned", code: 2000, wantErr: true},
		{name: "out of range", code: 5000, wantErr: true},
		{name: "reason too long", code: protocol.CloseNormal, reason: strings.Repeat("x", 124), wantErr: true},
		{name: "reason at limit", code: protocol.CloseNormal, reason: strings.Repeat("x", 123)},
		{name: "reason not utf-8", code: protocol.CloseNormal, reason: "\xff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := protocol.ValidateClose(tt.code, tt.reason)
			if tt.wantErr && !errors.Is(err, protocol.ErrInvalidCloseCode) {
				t.Errorf("ValidateClose(%d) error = %v, want ErrInvalidCloseCode", tt.code, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateClose(%d) unexpected error = %v", tt.code, err)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	transient := []int{1001, 1006, 1011, 1012, 1013, 1014}
	for _, code := range transient {
		if !protocol.Transient(code) {
			t.Errorf("Transient(%d) = false, want true", code)
		}
	}
	terminal := []int{1000, 1002, 1003, 1007, 1008, 1009, 4000}
	for _, code := range terminal {
		if protocol.Transient(code) {
			t.Errorf("Transient(%d) = true, want false", code)
		}
	}
}

func TestCloseInfo_String(t *testing.T) {
	if got := (protocol.CloseInfo{Code: 1000}).String(); got != "1000" {
		t.Errorf("String() = %q, want %q", got, "1000")
	}
	if got := (protocol.CloseInfo{Code: 1003, Reason: "bad data"}).String(); got != "1003: bad data" {
		t.Errorf("String() = %q, want %q", got, "1003: bad data")
	}
}
