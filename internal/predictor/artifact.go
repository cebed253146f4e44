package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Artifact 训练流水线发布的模型制品（JSON）
type Artifact struct {
	Scope       string          `json:"scope"`
	Kind        string          `json:"kind"`
	Version     string          `json:"version"`
	PublishedAt time.Time       `json:"published_at"`
	Params      json.RawMessage `json:"params"`
}

// ArtifactRef 制品索引项；Scope 由名称解析，不需要读取内容
type ArtifactRef struct {
	Name        string
	Scope       Scope
	Version     string
	PublishedAt time.Time
}

// Newer 同作用域下的新旧比较：发布时间优先，其次版本号
func (r ArtifactRef) Newer(o ArtifactRef) bool {
	if !r.PublishedAt.Equal(o.PublishedAt) {
		return r.PublishedAt.After(o.PublishedAt)
	}
	return r.Version > o.Version
}

// ArtifactStore 制品存储（目录 / Redis）
type ArtifactStore interface {
	List(ctx context.Context) ([]ArtifactRef, error)
	Load(ctx context.Context, ref ArtifactRef) ([]byte, error)
	// Archive 将过期或被取代的制品移出有效集合（不删除）
	Archive(ctx context.Context, ref ArtifactRef) error
}

// ArtifactName "<scope>@<version>"，version 为空时只有 scope
func ArtifactName(scope Scope, version string) string {
	if version == "" {
		return scope.String()
	}
	return scope.String() + "@" + version
}

// ParseArtifactName 解析 ArtifactName 的输出
func ParseArtifactName(name string) (Scope, string, error) {
	scopePart, version, _ := strings.Cut(name, "@")
	scope, err := ParseScope(scopePart)
	if err != nil {
		return Scope{}, "", err
	}
	return scope, version, nil
}

// Decode 解析并校验制品，返回可用的 Handle；任何问题都包装成 ErrModelLoad
func Decode(ref ArtifactRef, raw []byte) (*Handle, error) {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, ref.Name, err)
	}
	if a.Scope != "" && a.Scope != ref.Scope.String() {
		return nil, fmt.Errorf("%w: %s: scope mismatch (artifact says %s)", ErrModelLoad, ref.Name, a.Scope)
	}

	decode, ok := decoderFor(a.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unsupported kind %q", ErrModelLoad, ref.Name, a.Kind)
	}
	p, err := decode(a.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, ref.Name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s: decoder returned no predictor", ErrModelLoad, ref.Name)
	}

	version := a.Version
	if version == "" {
		version = ref.Version
	}
	h := NewHandle(ref.Scope, a.Kind, version, p)

	// 冒烟调用一次，确认 predict 可用
	if _, err := h.Predict(Features{At: time.Now(), Ahead: 0}); err != nil {
		return nil, fmt.Errorf("%w: %s: smoke prediction: %v", ErrModelLoad, ref.Name, err)
	}
	return h, nil
}
