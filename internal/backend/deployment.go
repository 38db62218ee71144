package backend

import (
	"fmt"

	"staffchat/internal/config"
)

// HostKind selects the wire protocol a deployment speaks.
type HostKind int

const (
	HostChatCompletion HostKind = iota
	HostAssistant
	HostImageGeneration
	HostCustomProxy
)

func (k HostKind) String() string {
	switch k {
	case HostChatCompletion:
		return "chat-completion"
	case HostAssistant:
		return "assistant"
	case HostImageGeneration:
		return "image-generation"
	case HostCustomProxy:
		return "custom-proxy"
	default:
		return fmt.Sprintf("HostKind(%d)", int(k))
	}
}

// ParseHostKind maps the host strings accepted in config onto a typed kind.
// Unknown hosts are a configuration error caught at startup, not at request
// time.
func ParseHostKind(host string) (HostKind, error) {
	switch host {
	case "", "azure", "chat-completion":
		return HostChatCompletion, nil
	case "assistant":
		return HostAssistant, nil
	case "dall-e", "gpt-image-1", "image-generation":
		return HostImageGeneration, nil
	case "custom-proxy":
		return HostCustomProxy, nil
	default:
		return 0, fmt.Errorf("unknown deployment host %q", host)
	}
}

// Deployment is a backend target with its host kind resolved.
type Deployment struct {
	Name string
	Kind HostKind
	config.DeploymentConfig
}

// ResolveDeployment validates one configured deployment. Budgeting requires a
// positive context window for every kind that sends text.
func ResolveDeployment(name string, cfg config.DeploymentConfig) (Deployment, error) {
	kind, err := ParseHostKind(cfg.Host)
	if err != nil {
		return Deployment{}, fmt.Errorf("deployment %s: %w", name, err)
	}
	if cfg.URL == "" {
		return Deployment{}, fmt.Errorf("deployment %s: url missing", name)
	}
	if kind != HostImageGeneration && cfg.ContextLimit <= 0 {
		return Deployment{}, fmt.Errorf("deployment %s: context_limit must be positive", name)
	}
	if kind == HostAssistant && cfg.AssistantID == "" {
		return Deployment{}, fmt.Errorf("deployment %s: assistant_id missing", name)
	}
	return Deployment{Name: name, Kind: kind, DeploymentConfig: cfg}, nil
}

// ResolveAll validates every enabled deployment in the config map.
func ResolveAll(cfgs map[string]config.DeploymentConfig) (map[string]Deployment, error) {
	out := make(map[string]Deployment, len(cfgs))
	for name, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		d, err := ResolveDeployment(name, cfg)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}
