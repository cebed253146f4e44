package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hospital-queue/internal/estimator"
	"hospital-queue/internal/export"
	"hospital-queue/internal/lifecycle"
	"hospital-queue/internal/models"
	"hospital-queue/internal/predictor"
	"hospital-queue/internal/scheduler"

	"go.uber.org/zap"
)

// EntryController 创建与状态迁移
type EntryController interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*models.QueueEntry, error)
	Transition(ctx context.Context, id string, to models.EntryStatus, note string) (*models.QueueEntry, error)
}

// EntryReader 读取记录与历史
type EntryReader interface {
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListHistory(ctx context.Context, from, to time.Time) ([]*models.HistorySnapshot, error)
}

// PositionReader 实时位置
type PositionReader interface {
	Position(ctx context.Context, entry *models.QueueEntry) (int, error)
}

// EstimateExplainer 估算明细
type EstimateExplainer interface {
	Explain(ctx context.Context, entry *models.QueueEntry) (*estimator.Breakdown, error)
}

// Recalculator 重算 / 过期清理
type Recalculator interface {
	Sweep(ctx context.Context, departmentID string) (scheduler.SweepResult, error)
	RecalculateOne(ctx context.Context, entryID string) (*scheduler.Outcome, error)
	ExpireStale(ctx context.Context) (scheduler.ExpireResult, error)
	FlagDelayed(ctx context.Context) (scheduler.DelayResult, error)
}

// ModelRegistry 预测模型注册表
type ModelRegistry interface {
	IsReady() bool
	Handles() []*predictor.Handle
	Reload(ctx context.Context) (predictor.ReloadResult, error)
}

// QueueHandler 排队引擎 HTTP 接口
type QueueHandler struct {
	entries   EntryController
	reader    EntryReader
	positions PositionReader
	explainer EstimateExplainer
	recalc    Recalculator
	models    ModelRegistry
	logger    *zap.Logger
}

func NewQueueHandler(
	entries EntryController,
	reader EntryReader,
	positions PositionReader,
	explainer EstimateExplainer,
	recalc Recalculator,
	registry ModelRegistry,
	logger *zap.Logger,
) *QueueHandler {
	return &QueueHandler{
		entries:   entries,
		reader:    reader,
		positions: positions,
		explainer: explainer,
		recalc:    recalc,
		models:    registry,
		logger:    logger,
	}
}

// EntryView 记录 + 实时位置
type EntryView struct {
	*models.QueueEntry
	Position int                  `json:"position"`
	Estimate *estimator.Breakdown `json:"estimate,omitempty"`
}

type transitionRequest struct {
	Status models.EntryStatus `json:"status"`
	Note   string             `json:"note"`
}

type modelStatus struct {
	Ready  bool                `json:"ready"`
	Scopes []*predictor.Handle `json:"scopes"`
}

func (h *QueueHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok", "models_ready": h.models.IsReady()}))
}

func (h *QueueHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	entry, err := h.entries.Create(r.Context(), req)
	if err != nil {
		h.fail(w, "create entry", err)
		return
	}
	view, err := h.view(r.Context(), entry, false)
	if err != nil {
		h.fail(w, "create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(view))
}

// GetEntry ?explain=1 时附带估算明细
func (h *QueueHandler) GetEntry(w http.ResponseWriter, r *http.Request, id string) {
	entry, err := h.reader.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, "get entry", err)
		return
	}
	view, err := h.view(r.Context(), entry, r.URL.Query().Get("explain") != "")
	if err != nil {
		h.fail(w, "get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

func (h *QueueHandler) TransitionEntry(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, Fail("status is required"))
		return
	}
	entry, err := h.entries.Transition(r.Context(), id, req.Status, req.Note)
	if err != nil {
		h.fail(w, "transition entry", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(entry))
}

func (h *QueueHandler) RecalculateEntry(w http.ResponseWriter, r *http.Request, id string) {
	out, err := h.recalc.RecalculateOne(r.Context(), id)
	if err != nil {
		h.fail(w, "recalculate entry", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func (h *QueueHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.recalc.Sweep(r.Context(), r.URL.Query().Get("department_id"))
	if err != nil {
		h.fail(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *QueueHandler) Expire(w http.ResponseWriter, r *http.Request) {
	res, err := h.recalc.ExpireStale(r.Context())
	if err != nil {
		h.fail(w, "expire", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *QueueHandler) FlagDelayed(w http.ResponseWriter, r *http.Request) {
	res, err := h.recalc.FlagDelayed(r.Context())
	if err != nil {
		h.fail(w, "flag delayed", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

func (h *QueueHandler) ModelStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(modelStatus{Ready: h.models.IsReady(), Scopes: h.models.Handles()}))
}

func (h *QueueHandler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	res, err := h.models.Reload(r.Context())
	if err != nil {
		h.fail(w, "reload models", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// ExportHistory ?from=&to=，默认最近 30 天
func (h *QueueHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from, err := parseTimeParam(r.URL.Query().Get("from"), now.AddDate(0, 0, -30))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid from"))
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), now)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid to"))
		return
	}

	snapshots, err := h.reader.ListHistory(r.Context(), from, to)
	if err != nil {
		h.fail(w, "export history", err)
		return
	}
	data, err := export.HistoryWorkbook(snapshots)
	if err != nil {
		h.fail(w, "export history", err)
		return
	}

	filename := fmt.Sprintf("queue_history_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *QueueHandler) view(ctx context.Context, entry *models.QueueEntry, explain bool) (*EntryView, error) {
	pos, err := h.positions.Position(ctx, entry)
	if err != nil {
		return nil, err
	}
	v := &EntryView{QueueEntry: entry, Position: pos}
	if explain && h.explainer != nil {
		b, err := h.explainer.Explain(ctx, entry)
		if err != nil {
			h.logger.Warn("Failed to explain estimate", zap.String("entry_id", entry.ID), zap.Error(err))
		} else {
			v.Estimate = b
		}
	}
	return v, nil
}

func (h *QueueHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, status, Fail("internal error"))
		return
	}
	writeJSON(w, status, Fail(err.Error()))
}
