package remotedata

import "github.com/c0deZ3R0/go-telemetry-kit/platform"

// Metadata is the client state a fetch was made with.
type Metadata struct {
	Locale     string `json:"locale"`
	AppVersion string `json:"app_version"`
	// LastModified is the server's Last-Modified value for the fetch.
	LastModified string `json:"last_modified,omitempty"`
}

// currentMetadata builds metadata from the live environment.
func currentMetadata(env *platform.Environment) Metadata {
	return Metadata{
		Locale:     env.CurrentLocale().String(),
		AppVersion: env.AppVersion(),
	}
}

// IsCurrent reports whether m was built from the same locale and app
// version as current. LastModified is ignored.
func (m Metadata) IsCurrent(current Metadata) bool {
	return m.Locale == current.Locale && m.AppVersion == current.AppVersion
}
