package env

import (
	"fmt"
	"strings"
)

// Stage is the deployment context. It selects the active signing secret and
// the idempotency store backend.
type Stage string

const (
	Development Stage = "development"
	Test        Stage = "test"
	Production  Stage = "production"
)

func (s Stage) IsDevelopment() bool { return s == Development }
func (s Stage) IsTest() bool        { return s == Test }
func (s Stage) IsProduction() bool  { return s == Production }

func (s Stage) String() string { return string(s) }

// ParseStage accepts the canonical names plus the short forms dev, prod and
// live.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return Development, nil
	case "test", "testing":
		return Test, nil
	case "production", "prod", "live":
		return Production, nil
	default:
		return "", fmt.Errorf("invalid stage: %q (valid: development, test, production)", s)
	}
}

// UnmarshalText lets caarlos0/env decode STAGE through ParseStage.
func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}
