package predictor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher 可写入制品的存储（FileArtifactStore / RedisArtifactStore）
type Publisher interface {
	Publish(ctx context.Context, a Artifact) (ArtifactRef, error)
}

// PublishArtifact 解析并试加载制品，通过后才写入存储；无法加载的制品不会进入有效集合
func PublishArtifact(ctx context.Context, pub Publisher, raw []byte) (ArtifactRef, error) {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: invalid artifact json: %v", ErrModelLoad, err)
	}
	scope, err := ParseScope(a.Scope)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	ref := ArtifactRef{Name: ArtifactName(scope, a.Version), Scope: scope, Version: a.Version}
	if _, err := Decode(ref, raw); err != nil {
		return ArtifactRef{}, err
	}
	return pub.Publish(ctx, a)
}
