package model

import (
	"fmt"
	"strings"
)

// Severity grades an emergency event.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityNormal
	SeverityLow
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "NONE",
	SeverityNormal:   "NORMAL",
	SeverityLow:      "LOW",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity maps a case-insensitive severity name onto a Severity.
func ParseSeverity(s string) (Severity, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == want {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

// EmergencyEvent is the authoritative incident description. Action is empty
// when the source did not provide one.
type EmergencyEvent struct {
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Emergency bool     `json:"emergency"`
	Action    string   `json:"action,omitempty"`
}

// Alert is the command-center banner derived from an event severity.
type Alert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AlertFor classifies a severity into the banner shown to operators.
func AlertFor(s Severity) Alert {
	switch s {
	case SeverityCritical:
		return Alert{Level: "critical", Message: "CRITICAL EMERGENCY DETECTED"}
	case SeverityHigh:
		return Alert{Level: "warning", Message: "High Risk Situation"}
	default:
		return Alert{Level: "ok", Message: "Normal"}
	}
}

// Responder is the simulated ambulance position.
type Responder struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
