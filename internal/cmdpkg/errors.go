package cmdpkg

import (
	"errors"
	"fmt"
)

// Kind 标识一次失败的类别，调用方通过 errors.Is 与下方哨兵错误比较。
type Kind string

const (
	KindInvalidDescriptor   Kind = "invalid_descriptor"
	KindOverridePathInvalid Kind = "override_path_invalid"
	KindNoSuchPackage       Kind = "no_such_package"
	KindNoEntryDeclared     Kind = "no_entry_declared"
	KindVersionNotFound     Kind = "version_not_found"
	KindInstallFailed       Kind = "install_failed"
	KindInstallInProgress   Kind = "install_in_progress"
	KindUnknownCommand      Kind = "unknown_command"
)

// kindError 让每个 Kind 都拥有一个可比较的哨兵值。
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

var (
	ErrInvalidDescriptor   error = &kindError{KindInvalidDescriptor, "invalid package descriptor"}
	ErrOverridePathInvalid error = &kindError{KindOverridePathInvalid, "override path does not contain a package"}
	ErrNoSuchPackage       error = &kindError{KindNoSuchPackage, "no such package"}
	ErrNoEntryDeclared     error = &kindError{KindNoEntryDeclared, "package declares no entry"}
	ErrVersionNotFound     error = &kindError{KindVersionNotFound, "version not found"}
	ErrInstallFailed       error = &kindError{KindInstallFailed, "install failed"}
	ErrInstallInProgress   error = &kindError{KindInstallInProgress, "install in progress"}
	ErrUnknownCommand      error = &kindError{KindUnknownCommand, "unknown command"}
)

var sentinels = map[Kind]error{
	KindInvalidDescriptor:   ErrInvalidDescriptor,
	KindOverridePathInvalid: ErrOverridePathInvalid,
	KindNoSuchPackage:       ErrNoSuchPackage,
	KindNoEntryDeclared:     ErrNoEntryDeclared,
	KindVersionNotFound:     ErrVersionNotFound,
	KindInstallFailed:       ErrInstallFailed,
	KindInstallInProgress:   ErrInstallInProgress,
	KindUnknownCommand:      ErrUnknownCommand,
}

// Error 携带失败类别、操作名和包名，Err 保存底层原因。
type Error struct {
	Kind    Kind
	Op      string // Operation that failed
	Package string // Package name if applicable
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	reason := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		reason = s.Error()
	}
	if e.Err != nil {
		reason = fmt.Sprintf("%s: %v", reason, e.Err)
	}
	if e.Package != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Package, reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrXxx) 按类别匹配，而不要求同一个实例。
func (e *Error) Is(target error) bool {
	if ke, ok := target.(*kindError); ok {
		return ke.kind == e.Kind
	}
	return false
}

// Errorf 构造带类别的错误，format 为空时仅保留类别本身。
func Errorf(kind Kind, op, pkg string, format string, args ...any) error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Package: pkg, Err: cause}
}

// Wrap 将已有错误包装为指定类别；若 err 已经带有类别则原样返回，避免层层覆盖。
func Wrap(kind Kind, op, pkg string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return &Error{Kind: kind, Op: op, Package: pkg, Err: err}
}

// KindOf 取出错误链上第一个类别。
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}
