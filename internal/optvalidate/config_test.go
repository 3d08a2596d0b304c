package optvalidate

import (
	"errors"
	"testing"
)

func TestConfigValidatorCustomCollectsFailure(t *testing.T) {
	cv := NewConfigValidator("Options")
	cv.Custom("Unordered", func() error {
		return errors.New("unordered=true requires unique_keys=false")
	})

	if !cv.HasErrors() {
		t.Fatal("expected an error to be recorded")
	}
	if err := cv.Validate(); err == nil {
		t.Fatal("expected Validate to return the recorded error")
	}
}

func TestConfigValidatorCustomPasses(t *testing.T) {
	cv := NewConfigValidator("Options")
	cv.Custom("Unordered", func() error { return nil })

	if cv.HasErrors() {
		t.Fatalf("expected no errors, got: %v", cv.Errors())
	}
	if err := cv.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestConfigValidatorWhenGatesPositive(t *testing.T) {
	cv := NewConfigValidator("Options")
	cv.When(true, func(cv *ConfigValidator) {
		cv.Positive("KeySize", 0)
		cv.Positive("ValueSize", 16)
	})

	if err := cv.Validate(); err == nil {
		t.Fatal("expected KeySize=0 under fixed_kv to fail")
	}
}

func TestConfigValidatorWhenSkipsWhenConditionFalse(t *testing.T) {
	cv := NewConfigValidator("Options")
	cv.When(false, func(cv *ConfigValidator) {
		cv.Positive("KeySize", 0)
	})

	if cv.HasErrors() {
		t.Fatalf("condition was false, Positive should never have run: %v", cv.Errors())
	}
}

func TestConfigValidatorValidateCombinesMultipleErrors(t *testing.T) {
	cv := NewConfigValidator("Options")
	cv.Positive("KeySize", 0)
	cv.Positive("ValueSize", 0)

	if len(cv.Errors()) != 2 {
		t.Fatalf("expected 2 recorded errors, got %d: %v", len(cv.Errors()), cv.Errors())
	}
	if err := cv.Validate(); err == nil {
		t.Fatal("expected a combined error")
	}
}
