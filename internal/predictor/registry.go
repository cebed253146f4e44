package predictor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ScopeCatalog 领域内仍然存在的科室 / 检查项目
type ScopeCatalog interface {
	ListDepartmentIDs(ctx context.Context) ([]string, error)
	ListExaminationIDs(ctx context.Context) ([]string, error)
}

// handleSet 一次 Reload 的结果，发布后只读
type handleSet struct {
	byScope  map[Scope]*Handle
	loadedAt time.Time
}

// ReloadResult 一次 Reload 的统计
type ReloadResult struct {
	Loaded   int      `json:"loaded"`
	Failed   int      `json:"failed"`
	Archived int      `json:"archived"`
	Scopes   []string `json:"scopes"`
}

// Registry 预测器注册表
// 读路径只做一次 atomic load；Reload 在旁边构建新表再整体替换。
type Registry struct {
	store   ArtifactStore
	catalog ScopeCatalog
	logger  *zap.Logger

	current  atomic.Pointer[handleSet]
	reloadMu sync.Mutex
}

// NewRegistry 创建注册表；catalog 为 nil 时不做过期归档
func NewRegistry(store ArtifactStore, catalog ScopeCatalog, logger *zap.Logger) *Registry {
	r := &Registry{store: store, catalog: catalog, logger: logger}
	r.current.Store(&handleSet{byScope: map[Scope]*Handle{}})
	return r
}

// Resolve 按顺序返回第一个存在的作用域对应的预测器，都没有时返回 nil
func (r *Registry) Resolve(scopes ...Scope) *Handle {
	set := r.current.Load()
	for _, s := range scopes {
		if h, ok := set.byScope[s]; ok {
			return h
		}
	}
	return nil
}

// IsReady 至少加载了一个预测器
func (r *Registry) IsReady() bool {
	return len(r.current.Load().byScope) > 0
}

// CoveredScopes 当前已加载的作用域（有序）
func (r *Registry) CoveredScopes() []Scope {
	set := r.current.Load()
	out := make([]Scope, 0, len(set.byScope))
	for s := range set.byScope {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Handles 当前已加载的预测器（诊断用）
func (r *Registry) Handles() []*Handle {
	scopes := r.CoveredScopes()
	set := r.current.Load()
	out := make([]*Handle, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, set.byScope[s])
	}
	return out
}

// Reload 从制品存储重建注册表
//   - 作用域 ID 已不存在的制品被归档
//   - 同一作用域按新到旧尝试，第一个能加载的生效，更旧的被归档
//   - 单个制品损坏只记录日志，不影响其它作用域
//
// 只有列举制品失败时返回错误，此时旧表保持不变。
func (r *Registry) Reload(ctx context.Context) (ReloadResult, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	var result ReloadResult
	refs, err := r.store.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list model artifacts: %w", err)
	}

	live, catalogOK := r.liveScopes(ctx)

	byScope := map[Scope][]ArtifactRef{}
	for _, ref := range refs {
		byScope[ref.Scope] = append(byScope[ref.Scope], ref)
	}

	// 归档推迟到新表生效之后，构建中途取消时存储保持原样
	var retire []retiredArtifact
	next := &handleSet{byScope: make(map[Scope]*Handle, len(byScope)), loadedAt: time.Now()}
	for scope, candidates := range byScope {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Newer(candidates[j]) })

		if catalogOK && scope.Type != ScopeGlobal && !live[scope] {
			for _, ref := range candidates {
				retire = append(retire, retiredArtifact{ref: ref, reason: "scope no longer exists"})
			}
			continue
		}

		loadedIdx := -1
		for i, ref := range candidates {
			h, err := r.load(ctx, ref)
			if err != nil {
				result.Failed++
				r.logger.Warn("Failed to load model artifact, skipping",
					zap.String("artifact", ref.Name),
					zap.Error(err),
				)
				continue
			}
			next.byScope[scope] = h
			loadedIdx = i
			result.Loaded++
			break
		}
		if loadedIdx < 0 {
			continue
		}
		for _, ref := range candidates[loadedIdx+1:] {
			retire = append(retire, retiredArtifact{ref: ref, reason: "superseded"})
		}
	}

	r.current.Store(next)
	for _, a := range retire {
		result.Archived += r.archive(ctx, a.ref, a.reason)
	}
	for _, s := range r.CoveredScopes() {
		result.Scopes = append(result.Scopes, s.String())
	}

	r.logger.Info("Model registry reloaded",
		zap.Int("loaded", result.Loaded),
		zap.Int("failed", result.Failed),
		zap.Int("archived", result.Archived),
	)
	return result, nil
}

func (r *Registry) load(ctx context.Context, ref ArtifactRef) (*Handle, error) {
	raw, err := r.store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, ref.Name, err)
	}
	return Decode(ref, raw)
}

type retiredArtifact struct {
	ref    ArtifactRef
	reason string
}

func (r *Registry) archive(ctx context.Context, ref ArtifactRef, reason string) int {
	if err := r.store.Archive(ctx, ref); err != nil {
		r.logger.Warn("Failed to archive model artifact",
			zap.String("artifact", ref.Name),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return 0
	}
	r.logger.Info("Archived model artifact",
		zap.String("artifact", ref.Name),
		zap.String("reason", reason),
	)
	return 1
}

// liveScopes 读取领域内现存的作用域；读取失败时不归档任何东西
func (r *Registry) liveScopes(ctx context.Context) (map[Scope]bool, bool) {
	if r.catalog == nil {
		return nil, false
	}
	depts, err := r.catalog.ListDepartmentIDs(ctx)
	if err == nil {
		var exams []string
		exams, err = r.catalog.ListExaminationIDs(ctx)
		if err == nil {
			live := make(map[Scope]bool, len(depts)+len(exams))
			for _, id := range depts {
				live[DepartmentScope(id)] = true
			}
			for _, id := range exams {
				live[ExaminationScope(id)] = true
			}
			return live, true
		}
	}
	if !errors.Is(err, context.Canceled) {
		r.logger.Warn("Failed to read scope catalog, stale artifacts will not be archived", zap.Error(err))
	}
	return nil, false
}
