// Package protect decides which project paths are tracked source, which are
// noise to keep out of worker context, and which are too sensitive to show.
package protect

// DefaultIgnore lists glob patterns never listed or read into context.
var DefaultIgnore = []string{
	".arbor/**",
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/.idea/**",
	"**/.DS_Store",
}

// DefaultSensitivePatterns lists glob patterns whose contents are withheld.
var DefaultSensitivePatterns = []string{
	"**/secrets/**",
	"**/credentials/**",
	"**/.ssh/**",
}

// DefaultSensitiveFileTypes lists extensions whose contents are withheld.
var DefaultSensitiveFileTypes = []string{
	".env",
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
}
