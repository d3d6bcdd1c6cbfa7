package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *TransportError
		wantAll []string
	}{
		{
			name: "with details",
			err: &TransportError{
				Operation: "bind socket",
				Err:       fmt.Errorf("permission denied"),
				Details:   "requires CAP_NET_RAW",
			},
			wantAll: []string{"transport error", "bind socket", "permission denied", "requires CAP_NET_RAW"},
		},
		{
			name: "without details",
			err: &TransportError{
				Operation: "send packet",
				Err:       fmt.Errorf("network unreachable"),
			},
			wantAll: []string{"transport error", "send packet", "network unreachable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.wantAll {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want substring %q", msg, want)
				}
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &TransportError{Operation: "send", Err: cause}
	if !stderrors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "timeout", Value: -1, Message: "must be positive"}
	msg := err.Error()
	if !strings.Contains(msg, "timeout") || !strings.Contains(msg, "must be positive") || !strings.Contains(msg, "-1") {
		t.Errorf("Error() = %q, missing expected substrings", msg)
	}
}

func TestWireFormatError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *WireFormatError
		want []string
	}{
		{
			name: "with offset",
			err:  &WireFormatError{Operation: "decode name", Offset: 42, Message: "pointer out of range"},
			want: []string{"decode name", "42", "pointer out of range"},
		},
		{
			name: "without offset",
			err:  &WireFormatError{Operation: "decode header", Offset: -1, Message: "short buffer"},
			want: []string{"decode header", "short buffer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want substring %q", msg, want)
				}
			}
		})
	}
}

func TestWireFormatError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("EOF")
	err := &WireFormatError{Operation: "read", Offset: -1, Message: "x", Err: cause}
	if !stderrors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestSentinelWireErrors(t *testing.T) {
	if ErrTruncatedPacket.Error() == "" {
		t.Fatal("ErrTruncatedPacket must render a message")
	}
	if ErrBadPointer.Error() == "" {
		t.Fatal("ErrBadPointer must render a message")
	}
}

func TestMalformedRecordError(t *testing.T) {
	err := &MalformedRecordError{RecordType: "SRV", Message: "rdata too short"}
	if !strings.Contains(err.Error(), "SRV") || !strings.Contains(err.Error(), "rdata too short") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNameConflictError(t *testing.T) {
	err := &NameConflictError{Name: "Test._test._tcp.local."}
	if !strings.Contains(err.Error(), "Test._test._tcp.local.") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestProbeTimeoutError(t *testing.T) {
	err := &ProbeTimeoutError{Name: "Test._test._tcp.local."}
	if !strings.Contains(err.Error(), "1 min") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestResolveTimeoutError(t *testing.T) {
	err := &ResolveTimeoutError{FullName: "Test._test._tcp.local."}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Error() = %q", err.Error())
	}
}
