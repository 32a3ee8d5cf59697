package config

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool
	Exporter     string // stdout, otlp or none
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

func LoadTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:      envBool("TRACING_ENABLED", false),
		Exporter:     envStr("TRACING_EXPORTER", "stdout"),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "club-events"),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:   envFloat("TRACING_SAMPLE_RATE", 1.0),
	}
}

// EmailConfig controls outbound email sent by the notifier.
type EmailConfig struct {
	Enabled      bool
	From         string
	ResendAPIKey string
}

func LoadEmailConfig() EmailConfig {
	return EmailConfig{
		Enabled:      envBool("EMAIL_ENABLED", false),
		From:         envStr("EMAIL_FROM", "no-reply@club-events.local"),
		ResendAPIKey: envStr("RESEND_API_KEY", ""),
	}
}
