package agentloop

import (
	"errors"
	"fmt"
)

// ErrSkillMDRequired is returned when a skill-scoped tool is dispatched
// before get_skill_metadata has been called for that skill in the current
// turn.
var ErrSkillMDRequired = errors.New("skill_md_required")

// ErrSkillFilesListingRequired is returned when run_skill_command is
// dispatched before list_skill_files has been called for that skill in the
// current turn.
var ErrSkillFilesListingRequired = errors.New("skill_files_listing_required")

// ledgerError carries the violated precondition plus enough context for
// Step to synthesize the nudge message the model sees on the next step.
type ledgerError struct {
	kind  error
	skill string
	tool  string
}

func (e *ledgerError) Error() string {
	return fmt.Sprintf("%s: skill=%q tool=%q", e.kind, e.skill, e.tool)
}

func (e *ledgerError) Unwrap() error { return e.kind }

// nudge renders the user-role message injected on a ledger violation,
// naming the missing prerequisite explicitly so the model can self-correct.
// This is distinct from the structured tool-result error code (see
// dispatchOne), which names the precondition category itself
// (skill_md_required/skill_files_listing_required), not the separate
// invalid_tool_arguments schema-validation category.
func (e *ledgerError) nudge() string {
	switch {
	case errors.Is(e.kind, ErrSkillFilesListingRequired):
		return fmt.Sprintf("%s requires list_skill_files(%q) to have been called first in this turn.", e.tool, e.skill)
	default:
		return fmt.Sprintf("%s requires get_skill_metadata(%q) to have been called first in this turn.", e.tool, e.skill)
	}
}

// ledger tracks, per conversation turn, which skills have had their
// metadata read and their file listing enumerated, gating progressive
// disclosure of deeper skill operations.
type ledger struct {
	metadataCalled map[string]bool
	filesListed    map[string]bool
}

func newLedger() *ledger {
	return &ledger{metadataCalled: map[string]bool{}, filesListed: map[string]bool{}}
}

func (l *ledger) markMetadata(skill string)   { l.metadataCalled[skill] = true }
func (l *ledger) markFilesListed(skill string) { l.filesListed[skill] = true }
func (l *ledger) hasMetadata(skill string) bool   { return l.metadataCalled[skill] }
func (l *ledger) hasFilesListed(skill string) bool { return l.filesListed[skill] }

func (l *ledger) requireMetadata(skill, tool string) error {
	if l.hasMetadata(skill) {
		return nil
	}
	return &ledgerError{kind: ErrSkillMDRequired, skill: skill, tool: tool}
}

func (l *ledger) requireFilesListed(skill, tool string) error {
	if l.hasFilesListed(skill) {
		return nil
	}
	return &ledgerError{kind: ErrSkillFilesListingRequired, skill: skill, tool: tool}
}
