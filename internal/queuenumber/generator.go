package queuenumber

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// DefaultMaxAttempts 生成队列号的最大尝试次数
const DefaultMaxAttempts = 5

// ErrQueueNumberExhausted 多次尝试仍然冲突
var ErrQueueNumberExhausted = errors.New("queue number attempts exhausted")

// Checker 队列号是否已被占用
type Checker interface {
	QueueNumberExists(ctx context.Context, queueNumber string) (bool, error)
}

// Generator 队列号生成器
// 格式：<科室代码><YYYYMMDD><HHMMSS><4 位十六进制>
// 首选后缀为 md5(患者姓名) 的末 4 位，冲突时改用加盐哈希
type Generator struct {
	checker     Checker
	maxAttempts int
	salt        func() string
}

// NewGenerator 创建生成器；maxAttempts <= 0 时使用默认值
func NewGenerator(checker Checker, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{checker: checker, maxAttempts: maxAttempts, salt: randomSalt}
}

// Candidate 第 attempt 次尝试的队列号（attempt 从 0 开始）
func (g *Generator) Candidate(deptCode, patientName string, at time.Time, attempt int) string {
	seed := patientName
	if attempt > 0 {
		seed = patientName + "#" + g.salt()
	}
	return deptCode + at.Format("20060102") + at.Format("150405") + suffix(seed)
}

// Generate 返回一个当前未被占用的队列号
// 唯一性最终由存储层的唯一约束保证，调用方仍需处理插入冲突
func (g *Generator) Generate(ctx context.Context, deptCode, patientName string, at time.Time) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate := g.Candidate(deptCode, patientName, at, attempt)
		exists, err := g.checker.QueueNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check queue number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrQueueNumberExhausted, g.maxAttempts)
}

// MaxAttempts 最大尝试次数
func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}

func suffix(seed string) string {
	sum := md5.Sum([]byte(seed))
	h := hex.EncodeToString(sum[:])
	return h[len(h)-4:]
}

func randomSalt() string {
	return fmt.Sprintf("%08x", rand.Uint32())
}
