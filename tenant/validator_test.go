package tenant

import (
	"math"
	"testing"

	"github.com/goliatone/go-tenant-cache/pkg/errors"
)

func TestExtractContext(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want *Context
	}{
		{
			name: "explicit context value",
			args: []any{"id:5", Context{ClinicID: 7, UserID: "u1"}},
			want: &Context{ClinicID: 7, UserID: "u1"},
		},
		{
			name: "explicit context pointer",
			args: []any{&Context{ClinicID: 9}},
			want: &Context{ClinicID: 9},
		},
		{
			name: "bare positive integer",
			args: []any{int64(12), "filter"},
			want: &Context{ClinicID: 12},
		},
		{
			name: "bare int beyond scan limit ignored",
			args: []any{"a", "b", "c", int64(12)},
			want: nil,
		},
		{
			name: "struct with clinic field",
			args: []any{struct{ ClinicID int64 }{ClinicID: 3}},
			want: &Context{ClinicID: 3},
		},
		{
			name: "map with clinic key",
			args: []any{map[string]any{"clinic_id": float64(4)}},
			want: &Context{ClinicID: 4},
		},
		{
			name: "negative integer ignored",
			args: []any{-5},
			want: nil,
		},
		{
			name: "uint64 near the int64 ceiling",
			args: []any{uint64(math.MaxInt64 - 1)},
			want: &Context{ClinicID: math.MaxInt64 - 1},
		},
		{
			name: "uint64 past the int64 ceiling ignored",
			args: []any{uint64(math.MaxInt64) + 1},
			want: nil,
		},
		{
			name: "nothing clinic-shaped",
			args: []any{"name", map[string]any{"status": "active"}},
			want: nil,
		},
		{
			name: "no args",
			args: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractContext(tt.args...)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ExtractContext() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ExtractContext() = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tc      *Context
		opts    ValidationOptions
		wantErr bool
	}{
		{"nil context with requirement", nil, ValidationOptions{RequireClinicID: true}, true},
		{"zero clinic id", &Context{}, ValidationOptions{RequireClinicID: true}, true},
		{"negative clinic id", &Context{ClinicID: -1}, ValidationOptions{RequireClinicID: true}, true},
		{"valid clinic id", &Context{ClinicID: 7}, ValidationOptions{RequireClinicID: true}, false},
		{"missing user id", &Context{ClinicID: 7}, ValidationOptions{RequireUserID: true}, true},
		{"present user id", &Context{ClinicID: 7, UserID: "u1"}, ValidationOptions{RequireUserID: true}, false},
		{"nothing required", nil, ValidationOptions{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tc, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsTenantIsolation(err) {
				t.Errorf("expected a TenantIsolationError, got %T", err)
			}
		})
	}
}

func TestGuard_CheckAnnotatesViolation(t *testing.T) {
	guard := NewGuard("contacts", ValidationOptions{RequireClinicID: true}, nil)

	err := guard.Check("findById", Context{})
	if err == nil {
		t.Fatal("expected violation")
	}

	var isolation *errors.TenantIsolationError
	if !errors.IsTenantIsolation(err) {
		t.Fatalf("expected TenantIsolationError, got %T", err)
	}
	isolation = err.(*errors.TenantIsolationError)
	if isolation.Service != "contacts" || isolation.Operation != "findById" {
		t.Errorf("violation missing call site: %+v", isolation)
	}
}

func TestGuard_CheckPassesValidScope(t *testing.T) {
	guard := NewGuard("contacts", ValidationOptions{RequireClinicID: true}, nil)

	if err := guard.Check("findById", Context{ClinicID: 7}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
