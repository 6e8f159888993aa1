// proxyvisor keeps a forward proxy pointed where the desired state says.
// Rewrites the forward directive in the proxy config and starts or
// restarts the proxy on every desired-state change.
package main

import "github.com/ppiankov/proxyvisor/internal/cli"

func main() {
	cli.Execute()
}
