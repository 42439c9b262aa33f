// Command demux runs the index pipeline described by a YAML
// configuration file: one Reader/Handler/Watcher triple per configured
// chain, plus a shared health/metrics server, grounded on the teacher's
// cmd/watcher/main.go (config-before-logger ordering, signal-driven
// graceful shutdown, now delegated to internal/cli).
package main

import (
	"github.com/chainflux/demux/internal/cli"
	"github.com/chainflux/demux/internal/handler"
)

// passthroughRegistrar registers no updaters or effects. demux is a
// pattern library: callers embedding it supply their own domain
// updaters and effects by implementing app.Registrar themselves. This
// default lets the binary run standalone to prove out the wiring
// (reader/handler/watcher/health) against a chain with nothing to
// index yet.
type passthroughRegistrar struct{}

func (passthroughRegistrar) UpdatersFor(chainName string) []handler.UpdaterRegistration { return nil }
func (passthroughRegistrar) EffectsFor(chainName string) []handler.EffectRegistration   { return nil }

func main() {
	cli.Execute(passthroughRegistrar{})
}
