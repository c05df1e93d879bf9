package domain

import "context"

// Skill is a reusable instruction template loaded from markdown files.
type Skill struct {
	Name        string
	Description string
	Tags        []string
	Template    string
}

// SkillSource loads skills from some backing location (a directory, an
// archive, a plugin bundle).
type SkillSource interface {
	Name() string
	Load(ctx context.Context) ([]Skill, error)
}

// SkillProvider gives tools and commands read access to loaded skills.
type SkillProvider interface {
	Get(name string) (*Skill, error)
	List() []Skill
}
