package toolregistry

// GetSessionContextArgs takes no parameters.
type GetSessionContextArgs struct{}

// GetSkillMetadataArgs names the skill whose SKILL.md to read.
type GetSkillMetadataArgs struct {
	SkillName string `json:"skill_name"`
}

// ListSkillFilesArgs lists a skill's files, bounded by depth.
type ListSkillFilesArgs struct {
	SkillName string `json:"skill_name"`
	MaxDepth  int    `json:"max_depth,omitempty"`
}

// ReadSkillFileArgs reads a skill-relative file, bounded by character count.
type ReadSkillFileArgs struct {
	SkillName    string `json:"skill_name"`
	RelativePath string `json:"relative_path"`
	MaxChars     int    `json:"max_chars,omitempty"`
}

// RunSkillCommandArgs runs a command inside a skill's directory.
type RunSkillCommandArgs struct {
	SkillName   string   `json:"skill_name"`
	Command     []string `json:"command"`
	CWDRelative string   `json:"cwd_relative,omitempty"`
	AutoInstall bool     `json:"auto_install,omitempty"`
}

// WriteTempFileArgs authors a file under session_dir.
type WriteTempFileArgs struct {
	RelativePath string `json:"relative_path"`
	Content      string `json:"content"`
}

// ReadTempFileArgs reads a file under session_dir.
type ReadTempFileArgs struct {
	RelativePath string `json:"relative_path"`
	MaxChars     int    `json:"max_chars,omitempty"`
}

// ListTempFilesArgs lists session_dir, bounded by depth.
type ListTempFilesArgs struct {
	MaxDepth int `json:"max_depth,omitempty"`
}

// RunTempCommandArgs runs a command inside session_dir.
type RunTempCommandArgs struct {
	Command     []string `json:"command"`
	CWDRelative string   `json:"cwd_relative,omitempty"`
	AutoInstall bool     `json:"auto_install,omitempty"`
}

// ExportTempFileArgs marks a session_dir file for delivery to the user.
type ExportTempFileArgs struct {
	TempRelativePath      string `json:"temp_relative_path"`
	WorkspaceRelativePath string `json:"workspace_relative_path,omitempty"`
	Overwrite             bool   `json:"overwrite,omitempty"`
}
