package rpc

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ServerVersion is the version reported by ping and health; cmd/bt sets it
var ServerVersion = "0.3.0"

// checkVersionCompatibility validates client version against server version.
// The server must share the client's major version and be at least as new.
func checkVersionCompatibility(clientVersion string) error {
	// Clients that predate the version header are allowed
	if clientVersion == "" {
		return nil
	}

	serverVer := ServerVersion
	if !strings.HasPrefix(serverVer, "v") {
		serverVer = "v" + serverVer
	}
	clientVer := clientVersion
	if !strings.HasPrefix(clientVer, "v") {
		clientVer = "v" + clientVer
	}

	// Dev builds carry no semver; let them through
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return nil
	}

	if semver.Major(serverVer) != semver.Major(clientVer) {
		if semver.Compare(serverVer, clientVer) < 0 {
			return fmt.Errorf("incompatible major versions: client %s, server %s. Server is older; upgrade and restart 'bt serve'",
				clientVersion, ServerVersion)
		}
		return fmt.Errorf("incompatible major versions: client %s, server %s. Client is older; upgrade the bt CLI to match the server's major version",
			clientVersion, ServerVersion)
	}

	if semver.Compare(serverVer, clientVer) < 0 {
		if semver.MajorMinor(serverVer) != semver.MajorMinor(clientVer) {
			return fmt.Errorf("version mismatch: client v%s requires server upgrade (server is v%s). Restart 'bt serve' with the new binary",
				clientVersion, ServerVersion)
		}
		return fmt.Errorf("version mismatch: server v%s is older than client v%s. Upgrade and restart 'bt serve'",
			ServerVersion, clientVersion)
	}
	return nil
}
