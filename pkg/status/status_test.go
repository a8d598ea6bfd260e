package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, OK},
		{"bare", Timeout, Timeout},
		{"wrapped", fmt.Errorf("poll: %w", Timeout), Timeout},
		{"double wrapped", fmt.Errorf("a: %w", fmt.Errorf("b: %w", IntegrityViolation)), IntegrityViolation},
		{"foreign", errors.New("boom"), GenericIOFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErr(t *testing.T) {
	if OK.Err() != nil {
		t.Error("OK.Err() should be nil")
	}
	if !errors.Is(ValidationFailure.Err(), ValidationFailure) {
		t.Error("ValidationFailure.Err() lost its code")
	}
	if got := Status(99).Err(); got != GenericIOFailure {
		t.Errorf("undefined code maps to %v, want GenericIOFailure", got)
	}
}

func TestFatal(t *testing.T) {
	if !Fatal(fmt.Errorf("x: %w", IntegrityViolation)) {
		t.Error("IntegrityViolation should be fatal")
	}
	if !Fatal(Timeout) {
		t.Error("Timeout should be fatal")
	}
	if Fatal(ValidationFailure) {
		t.Error("ValidationFailure should not be fatal")
	}
	if Fatal(nil) {
		t.Error("nil should not be fatal")
	}
}

func TestString(t *testing.T) {
	for s := OK; s <= GenericIOFailure; s++ {
		if s.String() == fmt.Sprintf("Status(%d)", uint32(s)) {
			t.Errorf("status %d has no name", uint32(s))
		}
	}
	if Status(42).IsValid() {
		t.Error("Status(42) should be invalid")
	}
}
