package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/domekit/domekit/pkg/errors"
)

// EnvManifestPath 指定清单路径的环境变量
const EnvManifestPath = "DOMEKIT_MANIFEST"

// DefaultManifestPath 缺省清单路径
const DefaultManifestPath = "./domekit.yaml"

// ManifestPathFromEnv 从环境变量解析清单路径
func ManifestPathFromEnv() string {
	if p := os.Getenv(EnvManifestPath); p != "" {
		return p
	}
	return DefaultManifestPath
}

// LoadManifest 加载并校验 domekit.yaml。
// 只解析文件本身，不触碰清单指向的任何资源。
// 顶层未知段忽略；已知段内未知键以结构化错误拒绝。
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("manifest not found: %s", path))
		}
		return nil, apperrors.NewManifestInvalidError(fmt.Sprintf("read manifest %s", path), err)
	}

	return ParseManifest(data)
}

// ParseManifest 从 YAML 字节解析清单
func ParseManifest(data []byte) (*Manifest, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewManifestInvalidError("manifest must be a YAML mapping", err)
	}
	if doc == nil {
		return nil, apperrors.NewManifestInvalidError("manifest is empty", nil)
	}

	manifest := DefaultManifest()

	// 每个已知段单独严格解码；doc 中其余顶层键静默忽略
	sections := []struct {
		key string
		dst interface{}
	}{
		{"app", &manifest.App},
		{"runtime", &manifest.Runtime},
		{"policy", &manifest.Policy},
		{"models", &manifest.Models},
		{"tools", &manifest.Tools},
		{"audit", &manifest.Audit},
		{"embedding", &manifest.Embedding},
		{"vector_db", &manifest.VectorDB},
	}

	for _, s := range sections {
		node, ok := doc[s.key]
		if !ok {
			continue
		}
		if err := decodeStrict(&node, s.dst); err != nil {
			return nil, apperrors.NewManifestInvalidError(
				fmt.Sprintf("invalid section %q", s.key), err)
		}
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// decodeStrict 重新编码节点后用 KnownFields 解码，拒绝未知键
func decodeStrict(node *yaml.Node, dst interface{}) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func validateManifest(m *Manifest) error {
	if m.App.Name == "" {
		return apperrors.NewManifestInvalidError("app.name is required", nil)
	}
	switch m.Runtime.PolicyMode {
	case PolicyModeLocalOnly, PolicyModeDeveloper:
	default:
		return apperrors.NewManifestInvalidError(
			fmt.Sprintf("runtime.policy_mode must be %q or %q, got %q",
				PolicyModeLocalOnly, PolicyModeDeveloper, m.Runtime.PolicyMode), nil)
	}
	switch m.Policy.Network.Outbound {
	case "deny", "allow":
	default:
		return apperrors.NewManifestInvalidError(
			fmt.Sprintf("policy.network.outbound must be \"deny\" or \"allow\", got %q",
				m.Policy.Network.Outbound), nil)
	}
	if m.VectorDB.DefaultTopK <= 0 {
		m.VectorDB.DefaultTopK = 10
	}
	return nil
}
