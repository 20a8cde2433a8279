// ABOUTME: Product identification for the player
// ABOUTME: Version is overridden at build time with -ldflags
package version

// Version is set with -ldflags "-X .../internal/version.Version=v1.2.3"
var Version = "0.3.0"

const (
	Product      = "Snapsync Player"
	Manufacturer = "Snapsync"
)

// UserAgent identifies the player to servers
func UserAgent() string {
	return Product + "/" + Version
}
