package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge-ai/internal/domain"
)

// maxSkillFileSize is the maximum allowed skill file size (1 MiB).
const maxSkillFileSize = 1 << 20

// DirSource loads skills from markdown files in a directory.
//
// Two layouts are supported:
//   - Flat: skills/*.md (one file per skill)
//   - Subdirectory: skills/<name>/SKILL.md (one directory per skill)
type DirSource struct {
	name string
	dir  string
}

// NewDirSource creates a named skill source over a directory.
func NewDirSource(name, dir string) *DirSource {
	return &DirSource{name: name, dir: dir}
}

// Name implements domain.SkillSource.
func (s *DirSource) Name() string { return s.name }

// Load reads and parses every skill file in the directory.
func (s *DirSource) Load(_ context.Context) ([]domain.Skill, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read skill dir %s: %w", s.dir, err)
	}

	seen := make(map[string]bool)
	var skills []domain.Skill
	for _, entry := range entries {
		var path string
		if entry.IsDir() {
			candidate := filepath.Join(s.dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err != nil {
				continue // no SKILL.md inside, skip
			}
			path = candidate
		} else if strings.HasSuffix(entry.Name(), ".md") {
			path = filepath.Join(s.dir, entry.Name())
		} else {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat skill file %s: %w", path, err)
		}
		if info.Size() > maxSkillFileSize {
			return nil, fmt.Errorf("skill file %s too large (%d bytes, max %d)", path, info.Size(), maxSkillFileSize)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read skill file %s: %w", path, err)
		}

		sk, err := parseSkillFile(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse skill file %s: %w", path, err)
		}
		if seen[sk.Name] {
			return nil, fmt.Errorf("duplicate skill name %q in %s", sk.Name, path)
		}
		seen[sk.Name] = true
		skills = append(skills, sk)
	}

	return skills, nil
}

// parseSkillFile parses a markdown file with YAML frontmatter (--- delimited).
func parseSkillFile(content string) (domain.Skill, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return domain.Skill{}, fmt.Errorf("missing frontmatter delimiter")
	}

	parts := strings.SplitN(content[3:], "---", 2)
	if len(parts) != 2 {
		return domain.Skill{}, fmt.Errorf("missing closing frontmatter delimiter")
	}

	frontmatter := strings.TrimSpace(parts[0])
	body := strings.TrimSpace(parts[1])

	sk := domain.Skill{Template: body}
	for _, line := range strings.Split(frontmatter, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colonIdx := strings.Index(line, ":")
		if colonIdx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colonIdx])
		value := strings.TrimSpace(line[colonIdx+1:])

		switch key {
		case "name":
			sk.Name = value
		case "description":
			sk.Description = value
		case "tags":
			sk.Tags = parseTags(value)
		}
	}

	if sk.Name == "" {
		return domain.Skill{}, fmt.Errorf("skill missing name in frontmatter")
	}
	return sk, nil
}

// parseTags parses [tag1, tag2] or tag1, tag2 format.
func parseTags(s string) []string {
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	var tags []string
	for _, p := range parts {
		tag := strings.TrimSpace(p)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

var _ domain.SkillSource = (*DirSource)(nil)
