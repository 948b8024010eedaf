// Package skillcatalog enumerates skill packages under a skills root and
// parses SKILL.md frontmatter. It mirrors the original plugin's
// line-based frontmatter grammar rather than a strict YAML document: the
// format is intentionally forgiving so that hand-written SKILL.md files
// never fail to load over a stray indentation or comment.
package skillcatalog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one skill package discovered under a skills root.
type Entry struct {
	Name        string `json:"name"`
	Folder      string `json:"folder"`
	Description string `json:"description"`

	// Properties holds every frontmatter key as a typed value (lists,
	// numbers, nested maps survive), for callers with bespoke needs beyond
	// the three promoted fields. Decoded via YAML so a skill author can
	// write richer metadata than flat strings; name/folder/description
	// extraction itself uses the simpler line scanner below, which is more
	// forgiving of stray formatting in a hand-written SKILL.md.
	Properties map[string]any `json:"properties,omitempty"`
}

// Index is the full catalog returned by Load: the skills root plus every
// skill package found directly beneath it.
type Index struct {
	Root   string  `json:"root"`
	Skills []Entry `json:"skills"`
}

// skillMDFilename is the conventional frontmatter file name inside a skill
// package directory.
const skillMDFilename = "SKILL.md"

// Load scans root for immediate subdirectories (lexicographic order) and
// builds an Entry for each one that contains a SKILL.md. Directories
// without a SKILL.md are skipped rather than erroring, since skills_root
// may contain scratch or non-skill directories.
func Load(ctx context.Context, root string) (Index, error) {
	if err := ctx.Err(); err != nil {
		return Index{}, err
	}
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return Index{}, fmt.Errorf("skillcatalog: read skills_root %q: %w", root, err)
	}

	folders := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			folders = append(folders, de.Name())
		}
	}
	sort.Strings(folders)

	skills := make([]Entry, 0, len(folders))
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return Index{}, err
		}
		mdPath := filepath.Join(root, folder, skillMDFilename)
		raw, err := os.ReadFile(mdPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Index{}, fmt.Errorf("skillcatalog: read %q: %w", mdPath, err)
		}
		_, props, frontmatterText, err := splitFrontmatterRaw(string(raw))
		if err != nil {
			return Index{}, fmt.Errorf("skillcatalog: parse frontmatter %q: %w", mdPath, err)
		}

		properties := map[string]any{}
		if strings.TrimSpace(frontmatterText) != "" {
			if err := yaml.Unmarshal([]byte(frontmatterText), &properties); err != nil {
				// Non-YAML-shaped frontmatter (e.g. a bare "key: value, more"
				// line) still yields the flat string props above; the rich
				// Properties bag is best-effort and never blocks loading.
				properties = map[string]any{}
				for k, v := range props {
					properties[k] = v
				}
			}
		}

		name := props["name"]
		if name == "" {
			name = folder
		}
		skills = append(skills, Entry{
			Name:        name,
			Folder:      folder,
			Description: props["description"],
			Properties:  properties,
		})
	}

	return Index{Root: root, Skills: skills}, nil
}

// Find returns the entry whose Folder matches folder, or false if absent.
func (idx Index) Find(folder string) (Entry, bool) {
	for _, e := range idx.Skills {
		if e.Folder == folder {
			return e, true
		}
	}
	return Entry{}, false
}

// ReadBody returns the markdown body of folder's SKILL.md, with the
// frontmatter block (including its delimiting "---" lines) stripped.
func ReadBody(root, folder string) (string, error) {
	mdPath := filepath.Join(root, folder, skillMDFilename)
	raw, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("skillcatalog: read %q: %w", mdPath, err)
	}
	body, _, _, err := splitFrontmatterRaw(string(raw))
	if err != nil {
		return "", fmt.Errorf("skillcatalog: parse %q: %w", mdPath, err)
	}
	return body, nil
}

// splitFrontmatterRaw implements the grammar: the first non-blank line must
// be exactly "---"; every following line up to (and including) the next
// line that is exactly "---" is a "key: value" pair, split on the first
// colon, with the value trimmed of surrounding whitespace and one matching
// layer of single or double quotes. Anything after the closing "---" is the
// body. If the first non-blank line is not "---", the entire input is the
// body and props/frontmatterText are empty. frontmatterText is the raw
// text between the delimiters (exclusive), handed to a YAML decoder by
// callers that want typed values instead of flat strings.
func splitFrontmatterRaw(raw string) (body string, props map[string]string, frontmatterText string, err error) {
	props = map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", nil, "", err
	}

	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "---" {
			start = i
		}
		break
	}
	if start == -1 {
		return raw, props, "", nil
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
		key, val, ok := splitKeyValue(lines[i])
		if ok {
			props[key] = val
		}
	}
	if end == -1 {
		return "", props, "", fmt.Errorf("skillcatalog: unterminated frontmatter block")
	}

	bodyLines := lines[end+1:]
	body = strings.TrimLeft(strings.Join(bodyLines, "\n"), "\r\n")
	if body != "" && strings.HasSuffix(raw, "\n") {
		body += "\n"
	}
	frontmatterText = strings.Join(lines[start+1:end], "\n")
	return body, props, frontmatterText, nil
}

// splitKeyValue splits a "key: value" frontmatter line on the first colon
// and strips one matching layer of surrounding quotes from the value. Blank
// lines and lines without a colon are ignored (ok=false).
func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(line[idx+1:])
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
