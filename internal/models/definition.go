package models

// Definition is a single pipeline entry of a pipeline-spec.yaml file.
type Definition struct {
	Title        string       `yaml:"title,omitempty" json:"title,omitempty"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Pipeline     []Step       `yaml:"pipeline" json:"pipeline"`
	Schedule     *Schedule    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Hooks        []string     `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

type Step struct {
	Run        string         `yaml:"run" json:"run"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

type Schedule struct {
	Crontab string `yaml:"crontab" json:"crontab"`
}

type Dependency struct {
	Pipeline string `yaml:"pipeline" json:"pipeline"`
}

// Pipeline is a parsed and validated definition, ready to be passed to a
// status Init.
type Pipeline struct {
	ID               string
	Definition       *Definition
	Details          Details
	Source           SourceSpec
	ValidationErrors []ValidationError
	CacheHash        string
}
