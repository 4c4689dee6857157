package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions 对应 configs/chains.yaml 的结构。
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition 描述单条链的节点与合约地址。
type Definition struct {
	Type         string `yaml:"type"`
	ChainID      int64  `yaml:"chain_id"`
	RPCURL       string `yaml:"rpc_url"`
	WSURL        string `yaml:"ws_url"`
	VaultAddress string `yaml:"vault_address"`
	ENSResolver  string `yaml:"ens_resolver"`
	Description  string `yaml:"description"`
}

// LoadDefinitions 解析链定义文件，路径为空时返回空集合。
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	for name, def := range defs.Chains {
		if strings.TrimSpace(def.RPCURL) == "" {
			return Definitions{}, fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		if def.Type == "" {
			def.Type = "evm"
		}
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		defs.Chains[name] = def
	}
	return defs, nil
}
