package types

import (
	goversion "github.com/hashicorp/go-version"
)

// LatestProtocolVersion is the highest wire protocol version this module
// speaks. A CMD_NODE_CONNECT handshake advertising an incompatible major
// version is rejected.
var LatestProtocolVersion = goversion.Must(goversion.NewVersion("1.0.0"))

// Configuration holds everything a process needs to bring up its node:
// identity, the protocol version it negotiates with, and the logger every
// session and attached object will use.
type Configuration struct {
	// Name identifies this node for logging and diagnostics.
	Name string

	// Version is the wire protocol version this node negotiates with.
	Version *goversion.Version

	// Logger is used by the session, dispatcher and every attached object.
	Logger Logger
}

// DefaultConfiguration builds a Configuration for a node named name,
// pinned to LatestProtocolVersion. Callers still supply their own Logger
// since types has no default implementation to hand back.
func DefaultConfiguration(name string) Configuration {
	return Configuration{
		Name:    name,
		Version: LatestProtocolVersion,
	}
}
