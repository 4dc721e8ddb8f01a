package policyengine

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

func validatePolicy(p Policy) error {
	if err := structValidator.Struct(p); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	switch p.Telemetry.Mode {
	case TelemetryNormal, TelemetryDrop, TelemetrySample, "":
	default:
		return fmt.Errorf("policy %q: invalid telemetry mode %q", p.Name, p.Telemetry.Mode)
	}
	return nil
}
