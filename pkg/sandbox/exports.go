package sandbox

import (
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// references returns the symbol set every unit is loaded with. It is built
// from the process's standard library bindings plus host exports the first
// time it is needed and reused afterwards.
func (s *Sandbox) references() interp.Exports {
	s.refsOnce.Do(func() {
		refs := make(interp.Exports, len(stdlib.Symbols)+len(s.cfg.HostExports))
		for k, v := range stdlib.Symbols {
			refs[k] = v
		}
		for k, v := range s.cfg.HostExports {
			refs[k] = v
		}
		s.refs = refs
		s.refLoads.Add(1)
		s.cfg.Logger.Debug().Int("packages", len(refs)).Msg("Sandbox reference set resolved")
	})
	return s.refs
}

// ReferenceLoads reports how many times the reference set was built.
func (s *Sandbox) ReferenceLoads() int {
	return int(s.refLoads.Load())
}
