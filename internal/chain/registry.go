package chain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
)

// Registry manages chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]*Client
	defs         map[string]Definition
}

// NewRegistry loads chain definitions and dials every configured endpoint.
func NewRegistry(ctx context.Context, cfg config.ChainConfig) (*Registry, error) {
	defs, err := LoadDefinitions(cfg.DefinitionsPath)
	if err != nil {
		return nil, err
	}

	r := &Registry{clients: make(map[string]*Client), defs: defs.Chains}
	for name, def := range defs.Chains {
		if def.Type != "evm" {
			r.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		client, err := NewClient(ctx, Config{Name: name, ChainID: def.ChainID, RPCURL: def.RPCURL, Notes: def.Description})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if _, ok := r.clients[defaultChain]; !ok && strings.TrimSpace(cfg.RPCURL) != "" {
		if defaultChain == "" {
			defaultChain = "default"
		}
		client, err := NewClient(ctx, Config{Name: defaultChain, RPCURL: cfg.RPCURL})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.clients[defaultChain] = client
		if _, ok := r.defs[defaultChain]; !ok {
			r.defs[defaultChain] = Definition{Type: "evm", RPCURL: cfg.RPCURL, VaultAddress: cfg.VaultAddress}
		}
	}

	if len(r.clients) == 0 {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未配置任何链的 RPC 端点")
	}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := r.clients[defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (*Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultName returns the name of the default chain.
func (r *Registry) DefaultName() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Definition returns the static definition for a chain.
func (r *Registry) Definition(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.defs[name]
	return def, ok
}

// Snapshots 汇总所有链的健康信息，单条失败时记录在 Notes 中。
func (r *Registry) Snapshots(ctx context.Context) []Snapshot {
	names := r.Chains()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := r.clients[name].Snapshot(ctx)
		if err != nil {
			snap = Snapshot{Name: name, Notes: err.Error()}
		}
		out = append(out, snap)
	}
	return out
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		client.Close()
		delete(r.clients, name)
	}
}

// Chains returns the sorted list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
