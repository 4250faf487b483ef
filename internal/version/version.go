package version

// Overridden at build time with -ldflags "-X gurtbot/internal/version.Version=...".
var (
	AppName = "Gurt"
	Version = "dev"
)
