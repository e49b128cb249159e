package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and
// alerting in a SIEM.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a
	// generated SQL statement before it ever reaches the database.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventValidationRejection is logged when a validator gate (shape,
	// semicolon, keyword, or table allowlist) rejects a statement.
	EventValidationRejection SecurityEventType = "validation_rejection"
	// EventCircuitBreakerOpen is the event LogCircuitBreakerOpen records
	// for a tripped LLM circuit breaker. The breaker itself does not call it.
	EventCircuitBreakerOpen SecurityEventType = "circuit_breaker_open"
)

// SecurityEvent is an auditable security event formatted for SIEM
// ingestion.
type SecurityEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     SecurityEventType `json:"event_type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	ClientIP      string            `json:"client_ip,omitempty"`
	Details       any               `json:"details"`
	Severity      string            `json:"severity"` // info, warning, critical
}

// InjectionDetails captures the specifics of a SQL injection pattern
// libinjection flagged in LLM-generated SQL.
type InjectionDetails struct {
	SQL         string `json:"sql"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events for SIEM consumption in structured
// JSON, independent of the append-only audit_log table.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a security auditor with a dedicated logger
// namespace for easy filtering in downstream log pipelines.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a SQL statement libinjection flagged as a
// likely injection pattern. Logged at ERROR level for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(correlationID, userID, clientIP string, details InjectionDetails) {
	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventSQLInjectionAttempt,
		CorrelationID: correlationID,
		UserID:        userID,
		ClientIP:      clientIP,
		Details:       details,
		Severity:      "critical",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection pattern detected in generated SQL",
		zap.String("event_json", string(eventJSON)),
		zap.String("correlation_id", correlationID),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogValidationRejection records a statement rejected by the SQL safety
// validator. Logged at WARN level — most rejections are planner mistakes,
// not attacks, but the pattern is worth tracking.
func (a *SecurityAuditor) LogValidationRejection(correlationID, userID, clientIP, reason string) {
	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventValidationRejection,
		CorrelationID: correlationID,
		UserID:        userID,
		ClientIP:      clientIP,
		Details:       map[string]string{"reason": reason},
		Severity:      "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("SQL statement rejected by validator",
		zap.String("event_json", string(eventJSON)),
		zap.String("correlation_id", correlationID),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}

// LogCircuitBreakerOpen records a provider's circuit breaker tripping
// open. Logged at WARN level for operational alerting.
func (a *SecurityAuditor) LogCircuitBreakerOpen(correlationID, provider string, failureCount int) {
	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventCircuitBreakerOpen,
		CorrelationID: correlationID,
		Details:       map[string]any{"provider": provider, "failure_count": failureCount},
		Severity:      "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("LLM circuit breaker opened",
		zap.String("event_json", string(eventJSON)),
		zap.String("correlation_id", correlationID),
		zap.String("provider", provider),
		zap.Int("failure_count", failureCount),
		zap.String("severity", "warning"),
	)
}
