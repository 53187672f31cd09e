package providers

import (
	"fmt"
	"sync"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/routing"
	"github.com/upb/llm-proxy/services/transform"
	"go.uber.org/zap"
)

// Instance is one assembled pipeline: a (provider, model) route bound
// to a credential-backed protocol client and the transformer for its
// wire format.
type Instance struct {
	PipelineID  string
	Provider    string
	Model       string
	Format      transform.Format
	Transformer transform.Transformer
	Protocol    Protocol
}

// Registry maps pipeline ids to assembled instances. Instances are
// registered at startup; request handling only reads.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry creates an empty instance registry
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Register adds an instance to the registry
func (r *Registry) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.PipelineID] = inst
}

// Get retrieves the instance for a pipeline id. A selected pipeline
// with no assembled instance is a configuration defect, surfaced as
// PIPELINE_MODULE_MISSING.
func (r *Registry) Get(pipelineID string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[pipelineID]
	if !ok {
		return nil, services.NewProxyError(services.CodePipelineModuleMissing,
			fmt.Sprintf("no pipeline instance assembled for %q", pipelineID), nil)
	}
	return inst, nil
}

// List returns the registered pipeline ids
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}

// Assemble builds the instance registry for every pipeline the routing
// table can select, binding each to its provider credential. A route
// whose provider has no credential fails assembly.
func Assemble(table routing.Table, creds []Credential, logger *zap.Logger) (*Registry, error) {
	byProvider := make(map[string]Credential, len(creds))
	for _, cred := range creds {
		byProvider[cred.Provider] = cred
	}

	registry := NewRegistry()
	for _, route := range table.Pipelines() {
		cred, ok := byProvider[route.Provider]
		if !ok {
			return nil, services.NewProxyError(services.CodePipelineAssemblyFailed,
				fmt.Sprintf("no credential configured for provider %q", route.Provider), nil)
		}
		transformer, err := transform.New(cred.Format)
		if err != nil {
			return nil, err
		}
		registry.Register(&Instance{
			PipelineID:  route.PipelineID,
			Provider:    route.Provider,
			Model:       route.Model,
			Format:      cred.Format,
			Transformer: transformer,
			Protocol:    NewHTTPProtocol(cred, logger),
		})
		logger.Info("pipeline assembled",
			zap.String("pipeline_id", route.PipelineID),
			zap.String("format", string(cred.Format)))
	}
	return registry, nil
}
