// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// FailureKind 对工作流中可能出现的失败进行分类。
// 除认证失败外，所有失败只中止当前流程步骤，重试用户操作即可恢复。
type FailureKind string

const (
	// AuthenticationFailure 阻止进入认证后的工作流。
	AuthenticationFailure FailureKind = "authentication"
	// GenerationFailure 来自生成式服务的失败（含配额/网络错误）。
	GenerationFailure FailureKind = "generation"
	// ExtractionFailure 参考文档不可读或损坏。
	ExtractionFailure FailureKind = "extraction"
	// PersistenceFailure 历史存储不可达；只降级为警告，绝不中断交互流程。
	PersistenceFailure FailureKind = "persistence"
	// ArtifactFailure 上传的作答文件不可读或不合法。
	ArtifactFailure FailureKind = "artifact"
)

// FlowError 是带失败类别的工作流错误。
type FlowError struct {
	Kind FailureKind
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// flowErr 构造一个指定类别的 FlowError。
func flowErr(kind FailureKind, format string, args ...interface{}) *FlowError {
	return &FlowError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误的失败类别；非 FlowError 时 ok 为 false。
func KindOf(err error) (FailureKind, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
