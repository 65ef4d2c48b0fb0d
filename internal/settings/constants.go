package settings

// DB config keys and limits for runtime settings.
const (
	// AIConfigKey stores the runtime AI configuration as a JSON object.
	AIConfigKey = "AI_CONFIG"
	// AuditRetentionDaysKey overrides audit.retention_days at runtime.
	AuditRetentionDaysKey = "AUDIT_RETENTION_DAYS"

	// MaxTemperature is the highest accepted sampling temperature.
	MaxTemperature = 2.0
	// MaxCompletionTokens is the highest accepted max_tokens value.
	MaxCompletionTokens = 32768
)
