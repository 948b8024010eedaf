// Package toolregistry exposes the agent's ten tools as llmtools-go
// descriptors, validates their arguments against a compiled JSON schema
// before dispatch, and binds each one to a Dispatcher implementation. The
// descriptor/registration shape (FuncID constants, Tools()/Bind()/Register())
// is carried over from the teacher's skilltool package; what changes is the
// tool set itself, generalized from 4 skill-lifecycle tools to the full
// 10-tool surface this runtime's AgentLoop drives.
package toolregistry

import "context"

// Dispatcher is implemented by AgentLoop (or a test double) and performs
// the actual tool side effects against SkillCatalog, ProcessExecutor, and
// SessionStore. Tool-level failures (bad path, file not found, command not
// allowed, no_executable_found, subprocess failure) are reported as a
// JSON-marshalable result carrying an "error" key, with a nil Go error,
// matching the dict-return style of the runtime this is ported from. A
// non-nil Go error is reserved for the one condition that is architecturally
// distinct: a progressive-disclosure precondition violation, which must not
// count against a turn's termination heuristics.
type Dispatcher interface {
	GetSessionContext(ctx context.Context) (any, error)

	GetSkillMetadata(ctx context.Context, skillName string) (any, error)
	ListSkillFiles(ctx context.Context, skillName string, maxDepth int) (any, error)
	ReadSkillFile(ctx context.Context, skillName, relativePath string, maxChars int) (any, error)
	RunSkillCommand(ctx context.Context, skillName string, command []string, cwdRelative string, autoInstall bool) (any, error)

	WriteTempFile(ctx context.Context, relativePath, content string) (any, error)
	ReadTempFile(ctx context.Context, relativePath string, maxChars int) (any, error)
	ListTempFiles(ctx context.Context, maxDepth int) (any, error)
	RunTempCommand(ctx context.Context, command []string, cwdRelative string, autoInstall bool) (any, error)
	ExportTempFile(ctx context.Context, tempRelativePath, workspaceRelativePath string, overwrite bool) (any, error)
}
