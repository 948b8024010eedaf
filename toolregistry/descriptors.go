package toolregistry

import (
	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
)

const (
	funcIDGetSessionContext llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.GetSessionContext"
	funcIDGetSkillMetadata  llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.GetSkillMetadata"
	funcIDListSkillFiles    llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.ListSkillFiles"
	funcIDReadSkillFile     llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.ReadSkillFile"
	funcIDRunSkillCommand   llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.RunSkillCommand"
	funcIDWriteTempFile     llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.WriteTempFile"
	funcIDReadTempFile      llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.ReadTempFile"
	funcIDListTempFiles     llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.ListTempFiles"
	funcIDRunTempCommand    llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.RunTempCommand"
	funcIDExportTempFile    llmtoolsgoSpec.FuncID = "github.com/flexigpt/skillagent-go/toolregistry.ExportTempFile"
)

// Tools returns the ten-tool descriptor set, in dispatch-table order.
func Tools() []llmtoolsgoSpec.Tool {
	return []llmtoolsgoSpec.Tool{
		GetSessionContextTool(),
		GetSkillMetadataTool(),
		ListSkillFilesTool(),
		ReadSkillFileTool(),
		RunSkillCommandTool(),
		WriteTempFileTool(),
		ReadTempFileTool(),
		ListTempFilesTool(),
		RunTempCommandTool(),
		ExportTempFileTool(),
	}
}

func GetSessionContextTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d01",
		Slug:          "get_session_context",
		Version:       "v1.0.0",
		DisplayName:   "Get Session Context",
		Description:   "Return the current skills_root and session_dir for this conversation.",
		Tags:          []string{"session"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{},
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDGetSessionContext},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func GetSkillMetadataTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d02",
		Slug:          "get_skill_metadata",
		Version:       "v1.0.0",
		DisplayName:   "Get Skill Metadata",
		Description:   "Read a skill's SKILL.md frontmatter and body. Must be called before list_skill_files, read_skill_file, or run_skill_command for the same skill.",
		Tags:          []string{"skills"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "skill_name":{"type":"string","minLength":1}
		  },
		  "required":["skill_name"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDGetSkillMetadata},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func ListSkillFilesTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d03",
		Slug:          "list_skill_files",
		Version:       "v1.0.0",
		DisplayName:   "List Skill Files",
		Description:   "List files under a skill directory, bounded by depth. Requires get_skill_metadata for the same skill first.",
		Tags:          []string{"skills", "fs"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "skill_name":{"type":"string","minLength":1},
		    "max_depth":{"type":"integer"}
		  },
		  "required":["skill_name"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDListSkillFiles},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func ReadSkillFileTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d04",
		Slug:          "read_skill_file",
		Version:       "v1.0.0",
		DisplayName:   "Read Skill File",
		Description:   "Read a text file under a skill directory, bounded by character count. Requires get_skill_metadata for the same skill first.",
		Tags:          []string{"skills", "fs", "read"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "skill_name":{"type":"string","minLength":1},
		    "relative_path":{"type":"string","minLength":1},
		    "max_chars":{"type":"integer"}
		  },
		  "required":["skill_name","relative_path"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDReadSkillFile},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func RunSkillCommandTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d05",
		Slug:          "run_skill_command",
		Version:       "v1.0.0",
		DisplayName:   "Run Skill Command",
		Description:   "Execute a command (python, or an allow-listed executable) inside a skill's directory. Requires get_skill_metadata and list_skill_files for the same skill first.",
		Tags:          []string{"skills", "exec"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "skill_name":{"type":"string","minLength":1},
		    "command":{"type":"array","items":{"type":"string"},"minItems":1},
		    "cwd_relative":{"type":"string"},
		    "auto_install":{"type":"boolean","default":false}
		  },
		  "required":["skill_name","command"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDRunSkillCommand},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func WriteTempFileTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d06",
		Slug:          "write_temp_file",
		Version:       "v1.0.0",
		DisplayName:   "Write Temp File",
		Description:   "Author a file under the session directory. State a one-line intent before calling this.",
		Tags:          []string{"session", "fs", "write"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "relative_path":{"type":"string","minLength":1},
		    "content":{"type":"string"}
		  },
		  "required":["relative_path","content"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDWriteTempFile},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func ReadTempFileTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d07",
		Slug:          "read_temp_file",
		Version:       "v1.0.0",
		DisplayName:   "Read Temp File",
		Description:   "Read a file under the session directory, bounded by character count.",
		Tags:          []string{"session", "fs", "read"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "relative_path":{"type":"string","minLength":1},
		    "max_chars":{"type":"integer"}
		  },
		  "required":["relative_path"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDReadTempFile},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func ListTempFilesTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d08",
		Slug:          "list_temp_files",
		Version:       "v1.0.0",
		DisplayName:   "List Temp Files",
		Description:   "List files under the session directory, bounded by depth.",
		Tags:          []string{"session", "fs"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "max_depth":{"type":"integer"}
		  },
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDListTempFiles},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func RunTempCommandTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d09",
		Slug:          "run_temp_command",
		Version:       "v1.0.0",
		DisplayName:   "Run Temp Command",
		Description:   "Execute a command (python, or an allow-listed executable) inside the session directory.",
		Tags:          []string{"session", "exec"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "command":{"type":"array","items":{"type":"string"},"minItems":1},
		    "cwd_relative":{"type":"string"},
		    "auto_install":{"type":"boolean","default":false}
		  },
		  "required":["command"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDRunTempCommand},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}

func ExportTempFileTool() llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            "019c0a10-3a1f-7a01-9e01-9f1a2b3c4d0a",
		Slug:          "export_temp_file",
		Version:       "v1.0.0",
		DisplayName:   "Export Temp File",
		Description:   "Mark a file already present under the session directory for delivery to the user. Does not copy the file.",
		Tags:          []string{"session", "export"},
		ArgSchema: llmtoolsgoSpec.JSONSchema(`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "temp_relative_path":{"type":"string","minLength":1},
		    "workspace_relative_path":{"type":"string"},
		    "overwrite":{"type":"boolean","default":false}
		  },
		  "required":["temp_relative_path"],
		  "additionalProperties":false
		}`),
		GoImpl:     llmtoolsgoSpec.GoToolImpl{FuncID: funcIDExportTempFile},
		CreatedAt:  llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt: llmtoolsgoSpec.SchemaStartTime,
	}
}
