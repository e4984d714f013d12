package builtins

import "shadowdesk/internal/strategy"

// Default returns a registry preloaded with every builtin signal at its
// standard parameters.
func Default() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(NewSMACross(20, 50))
	r.Register(NewBreakout(55))
	return r
}
