package mod

import "context"

// InjectionResult is the outcome of registering one injection configuration.
type InjectionResult struct {
	Config string
	Err    error
}

// InjectionRegistrar hands a mod's injection configurations to the host.
// It returns one result per configuration.
type InjectionRegistrar interface {
	Register(ctx context.Context, modID string, configs []string) []InjectionResult
}

// RegistrarFunc adapts a per-configuration function to InjectionRegistrar.
type RegistrarFunc func(ctx context.Context, modID, config string) error

// Register implements InjectionRegistrar.
func (f RegistrarFunc) Register(ctx context.Context, modID string, configs []string) []InjectionResult {
	results := make([]InjectionResult, 0, len(configs))
	for _, config := range configs {
		results = append(results, InjectionResult{Config: config, Err: f(ctx, modID, config)})
	}
	return results
}

// AcceptAll is a registrar for hosts without an injection subsystem.
var AcceptAll InjectionRegistrar = RegistrarFunc(func(context.Context, string, string) error { return nil })
