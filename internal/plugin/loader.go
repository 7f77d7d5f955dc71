package plugin

import (
	"fmt"

	"firestige.xyz/shredtap/internal/config"
	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/plugin"
)

// Load instantiates and initializes the enabled outputs of cfg in order and
// returns a runner for them. Nothing is started. An unknown type or a failed
// Init aborts loading.
func Load(cfg config.PluginsConfig) (*Runner, error) {
	policy, err := ParseStartPolicy(cfg.StartPolicy)
	if err != nil {
		return nil, err
	}

	outputs := make([]plugin.Output, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		if !oc.IsEnabled() {
			log.GetLogger().WithField(core.FieldPlugin, oc.Name).Info("output disabled, skipping")
			continue
		}
		out, err := newOutput(oc)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	return NewRunner(policy, outputs...), nil
}

func newOutput(oc config.OutputConfig) (plugin.Output, error) {
	factory, err := plugin.GetOutputFactory(oc.Type)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", oc.Name, err)
	}

	out := factory()
	if named, ok := out.(plugin.Named); ok && oc.Name != "" {
		named.SetName(oc.Name)
	}
	if err := out.Init(oc.Config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrPluginInitFailed, out.Name(), err)
	}
	return out, nil
}
