package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	artifactExt       = ".json"
	archiveSubdirName = "archive"
)

// FileArtifactStore 目录形式的制品存储：<dir>/<scope>[@version].json
// 归档即移动到 <dir>/archive/
type FileArtifactStore struct {
	dir string
}

// NewFileArtifactStore 创建目录制品存储（目录不存在时自动创建）
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &FileArtifactStore{dir: dir}, nil
}

func (s *FileArtifactStore) List(ctx context.Context) ([]ArtifactRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact dir: %w", err)
	}

	refs := make([]ArtifactRef, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), artifactExt)
		scope, version, err := ParseArtifactName(name)
		if err != nil {
			// 不认识的文件名直接忽略
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		refs = append(refs, ArtifactRef{
			Name:        name,
			Scope:       scope,
			Version:     version,
			PublishedAt: info.ModTime(),
		})
	}
	return refs, nil
}

func (s *FileArtifactStore) Load(_ context.Context, ref ArtifactRef) ([]byte, error) {
	return os.ReadFile(s.path(ref.Name))
}

func (s *FileArtifactStore) Archive(_ context.Context, ref ArtifactRef) error {
	archiveDir := filepath.Join(s.dir, archiveSubdirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	dst := filepath.Join(archiveDir, fmt.Sprintf("%s.%d%s", ref.Name, time.Now().Unix(), artifactExt))
	if err := os.Rename(s.path(ref.Name), dst); err != nil {
		return fmt.Errorf("failed to archive %s: %w", ref.Name, err)
	}
	return nil
}

// Publish 原子写入一个制品（临时文件 + rename），供训练流水线和测试使用
func (s *FileArtifactStore) Publish(_ context.Context, a Artifact) (ArtifactRef, error) {
	scope, err := ParseScope(a.Scope)
	if err != nil {
		return ArtifactRef{}, err
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = time.Now()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return ArtifactRef{}, err
	}

	name := ArtifactName(scope, a.Version)
	tmp, err := os.CreateTemp(s.dir, ".publish-*")
	if err != nil {
		return ArtifactRef{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return ArtifactRef{}, err
	}
	if err := tmp.Close(); err != nil {
		return ArtifactRef{}, err
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return ArtifactRef{}, err
	}
	_ = os.Chtimes(s.path(name), a.PublishedAt, a.PublishedAt)

	return ArtifactRef{Name: name, Scope: scope, Version: a.Version, PublishedAt: a.PublishedAt}, nil
}

func (s *FileArtifactStore) path(name string) string {
	return filepath.Join(s.dir, name+artifactExt)
}
