package predictor

import (
	"fmt"
	"strings"
)

// ScopeType 模型的训练/适用粒度
type ScopeType string

const (
	ScopeExamination ScopeType = "examination"
	ScopeDepartment  ScopeType = "department"
	ScopeGlobal      ScopeType = "global"
)

// Scope 模型作用域，global 的 ID 为空
type Scope struct {
	Type ScopeType
	ID   string
}

func ExaminationScope(id string) Scope { return Scope{Type: ScopeExamination, ID: id} }
func DepartmentScope(id string) Scope  { return Scope{Type: ScopeDepartment, ID: id} }
func GlobalScope() Scope               { return Scope{Type: ScopeGlobal} }

// String "examination_12" / "department_3" / "global"，同时用作制品文件名前缀
func (s Scope) String() string {
	if s.Type == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(s.Type) + "_" + s.ID
}

// ParseScope 解析 String() 的输出
func ParseScope(raw string) (Scope, error) {
	if raw == string(ScopeGlobal) {
		return GlobalScope(), nil
	}
	parts := strings.SplitN(raw, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Scope{}, fmt.Errorf("invalid scope %q", raw)
	}
	switch t := ScopeType(parts[0]); t {
	case ScopeExamination, ScopeDepartment:
		return Scope{Type: t, ID: parts[1]}, nil
	default:
		return Scope{}, fmt.Errorf("invalid scope type %q", parts[0])
	}
}

// MarshalText 让 Scope 可以直接作为 JSON 字段输出
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FallbackChain 预测器解析顺序：检查项目 → 科室 → 全局；空 ID 的层级被跳过
func FallbackChain(examinationID, departmentID string) []Scope {
	chain := make([]Scope, 0, 3)
	if examinationID != "" {
		chain = append(chain, ExaminationScope(examinationID))
	}
	if departmentID != "" {
		chain = append(chain, DepartmentScope(departmentID))
	}
	return append(chain, GlobalScope())
}
