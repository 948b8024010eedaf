package agentloop

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/flexigpt/skillagent-go/skillcatalog"
)

// availableSkillsXML and its element types mirror the teacher's XML prompt
// marshaling pattern (internal/promptxml), generalized to skillcatalog's
// Entry shape instead of the teacher's spec.SkillRecord.
type availableSkillsXML struct {
	XMLName xml.Name          `xml:"available_skills"`
	Skills  []availableSkillEl `xml:"skill"`
}

type availableSkillEl struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Folder      string `xml:"folder,omitempty"`
}

// skillCatalogXML renders idx as an <available_skills> XML document sorted
// by skill name. buildSystemPrompt does not use it: the system prompt embeds
// the catalog as JSON only, matching the original's json.dumps(skills_index)
// call. This XML rendering has no caller in this package.
func skillCatalogXML(idx skillcatalog.Index) (string, error) {
	sorted := append([]skillcatalog.Entry(nil), idx.Skills...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := availableSkillsXML{Skills: make([]availableSkillEl, 0, len(sorted))}
	for _, sk := range sorted {
		out.Skills = append(out.Skills, availableSkillEl{
			Name:        sk.Name,
			Description: sk.Description,
			Folder:      sk.Folder,
		})
	}
	b, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agentloop: marshal skill catalog xml: %w", err)
	}
	return string(b), nil
}

// progressiveDisclosureRules is the fixed, literal set of ground rules the
// model must follow, ported verbatim from the system prompt construction.
// It is not regenerated or templated per skill since its wording is part of
// the contract the ledger (see ledger.go) actually enforces.
const progressiveDisclosureRules = `你是一个使用 Skills 文件夹作为“工具箱”的通用型 Agent。
你必须遵循渐进式披露流程：
1) 只根据技能元数据（name/description）判断可能相关的技能
2) 触发时才调用 get_skill_metadata 读取 SKILL.md（说明文档）
3) 任何对技能的进一步操作（list_skill_files/read_skill_file/run_skill_command）之前，必须先 get_skill_metadata；若未执行，本系统会拒绝该调用并要求你先补读说明书。
4) 按说明书内容执行脚本/命令，或进一步搜索资料前，必须先调用 list_skill_files 查看技能包的目录结构，以确保在正确的目录执行命令。
5) 只有在需要更深信息时，才调用 read_skill_file
6) 只有在明确需要执行脚本/命令时，才调用 run_skill_command
7) 执行前必须先确认技能包内确实存在可执行入口（脚本/模块等），不要猜测模块名；如果缺少可执行入口，则先交付当前可交付产物，并询问用户是否允许你在 temp 目录中自行创建脚本后再尝试生成。
8) 按说明书要求生成最终文件后，必须用 export_temp_file 标记最终文件
路径规则：uploads/ 与你用 write_temp_file 生成的中间产物都位于 session_dir 下；run_skill_command 的 cwd 在 skills_root/<skill_name> 下。
因此：只要命令参数需要引用 uploads/ 或 temp 中间文件，一律使用 read_temp_file 返回的绝对路径（result.path）传给命令；不要使用 ../uploads、../../temp 这类相对路径猜测。
依赖安装规则：如需 npm install/npm ci/bun install，必须用 run_skill_command 在技能包内含 package.json 的目录执行（通过 cwd_relative 指到该目录）；禁止在 session_dir 执行 install，否则会写入 temp/<session>/node_modules 导致每次会话重复安装。
补充规则1：如果用户请求中已经明确给出具体类型/参数，则视为已确认，不要重复追问，直接进入对应分支执行。
补充规则2：当你需要向用户追问任何信息时：本轮必须只输出问题与选项，并立刻结束；不得在同一轮继续读取任何文件、执行任何命令、生成任何产物。
补充规则3：默认值只能在用户明确说“默认/随便/你决定”时启用；用户未回复不等于选择了默认。
补充规则4：当你准备调用 write_temp_file 时，必须先在自然语言里输出一行“写入意图确认”，包含：relative_path + 内容摘要（前 80 字）+ 大致长度；然后再发起工具调用。relative_path 必须是文件路径（不能是空、'.'、'..'、不能以 '/' 结尾，不能指向目录）。
你必须把实现过程中的中间产物写入 temp 会话目录（脚本、草稿、生成物等）：
- 写文本：write_temp_file
- 运行命令生成文件：run_temp_command
对任何“有明确交付物”的请求，你必须在同一轮内推进直到：生成可交付文件，或给出明确失败原因。
只有调用 export_temp_file 标记的文件，才会作为最终交付文件返回给用户；uploads/ 与未标记文件不会回传。`

// availableActions lists the ten dispatchable tools in the order the model
// is shown them, matching the original's 可用动作 block.
const availableActions = `可用动作：
- get_session_context()
- get_skill_metadata(skill_name)
- list_skill_files(skill_name, max_depth)
- read_skill_file(skill_name, relative_path, max_chars)
- run_skill_command(skill_name, command, cwd_relative, auto_install)
- write_temp_file(relative_path, content)
- read_temp_file(relative_path, max_chars)
- list_temp_files(max_depth)
- run_temp_command(command, cwd_relative, auto_install)
- export_temp_file(temp_relative_path, workspace_relative_path, overwrite)  # 不复制，仅标记交付名

如果模型支持 function call，请直接发起工具调用；若不支持，则用 JSON 协议响应：
{"type":"tool","name":"get_skill_metadata","arguments":{"skill_name":"xxx"}}
或 {"type":"final","content":"..."}`

// buildSystemPrompt assembles the system message for one turn: the base
// prompt supplied by the host, the progressive-disclosure rules, the
// session/skills_root paths, the available-actions block, the skill
// catalog (embedded as JSON, matching the original's json.dumps call),
// and an optional suffix (the caller passes the resume context of a
// pending consent record followed by the listing of uploaded files).
func buildSystemPrompt(basePrompt, sessionDir, skillsRoot string, catalog skillcatalog.Index, resumeContext string) (string, error) {
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return "", fmt.Errorf("agentloop: marshal skill catalog: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(basePrompt))
	b.WriteString("\n\n")
	b.WriteString(progressiveDisclosureRules)
	b.WriteString("\n\n[会话路径]\n")
	fmt.Fprintf(&b, "- session_dir: %s\n", sessionDir)
	fmt.Fprintf(&b, "- skills_root: %s\n", skillsRoot)
	b.WriteString("\n")
	b.WriteString(availableActions)
	b.WriteString("\n\n技能索引（用于判断是否需要调用技能）：\n")
	b.Write(catalogJSON)
	if strings.TrimSpace(resumeContext) != "" {
		b.WriteString("\n\n")
		b.WriteString(resumeContext)
	}
	return b.String(), nil
}
