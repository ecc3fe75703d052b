package config

// Default returns a configuration that runs a local development server.
func Default() Config {
	return Config{
		Server: Server{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Database: Database{
			Driver: "memory",
			Path:   "./data",
		},
		Session: Session{
			TimeoutSeconds: 86400,
			JWTIssuer:      "BookAuth-Issuer",
		},
		Auth: Auth{
			MinPasswordLength:    6,
			LinkPolicy:           "email",
			ResetTokenTTLMinutes: 60,
		},
		Mail: Mail{
			Port:           587,
			TimeoutSeconds: 10,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
	}
}
