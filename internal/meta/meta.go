// Package meta holds build metadata.
package meta

// Version is set at build time with
// -ldflags "-X github.com/rickchristie/sqlgate-mcp/internal/meta.Version=v1.2.3".
var Version = "dev"
