package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.OperatorSecret)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Game.Pairs != nil {
		out.Game.Pairs = make([]string, len(cfg.Game.Pairs))
		copy(out.Game.Pairs, cfg.Game.Pairs)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
