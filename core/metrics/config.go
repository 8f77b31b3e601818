package metrics

import "github.com/kilianp07/parlock/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr enables the /metrics endpoint when set.
	PrometheusAddr string `json:"prometheus_addr"`
	// AuditToken protects the audit API served next to /metrics.
	AuditToken string `json:"audit_token"`
}
