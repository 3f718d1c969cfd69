package orchestrator

import (
	"strings"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

// highSeverityTypes and mediumSeverityTypes are the fixed severity
// mapping table. Anything not listed defaults to LOW. Matching is
// case-insensitive after trimming.
var highSeverityTypes = map[string]bool{
	"PASSWORD":        true,
	"CREDIT_CARD":     true,
	"API_KEY":         true,
	"AWS_KEY":         true,
	"JWT_TOKEN":       true,
	"SSN":             true,
	"US_SSN":          true,
	"IBAN":            true,
	"MEDICAL_LICENSE": true,
	"IN_AADHAAR":      true,
	"ACCOUNT_NUMBER":  true,
}

var mediumSeverityTypes = map[string]bool{
	"DRIVER_LICENSE":  true,
	"PASSPORT":        true,
	"TAX_NUMBER":      true,
	"NATIONAL_ID":     true,
	"DATE_OF_BIRTH":   true,
	"AGE":             true,
}

// severityFor classifies a PII type per the fixed mapping table.
func severityFor(piiType string) domain.Severity {
	key := strings.ToUpper(strings.TrimSpace(piiType))
	switch {
	case highSeverityTypes[key]:
		return domain.SeverityHigh
	case mediumSeverityTypes[key]:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
