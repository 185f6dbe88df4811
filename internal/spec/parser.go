// Package spec discovers pipeline-spec.yaml files and turns their entries
// into validated pipelines ready for a status Init.
package spec

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/pipestatus/internal/models"
)

const FileName = "pipeline-spec.yaml"

const (
	CodeInvalidPipeline   = "Invalid Pipeline"
	CodeInvalidStep       = "Invalid Step"
	CodeInvalidHook       = "Invalid Hook"
	CodeMissingDependency = "Missing Dependency"
)

var ErrNoPipelines = errors.New("no pipelines found")

// Parse reads one spec file, mapping pipeline names to definitions.
func Parse(path string) (map[string]*models.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read spec file")
	}

	defs := map[string]*models.Definition{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return defs, nil
}

// LoadAll walks every root for spec files and returns the pipelines they
// define, sorted by id. Missing roots are skipped.
func LoadAll(roots []string) ([]*models.Pipeline, error) {
	byID := map[string]*models.Pipeline{}

	for _, root := range roots {
		if err := loadFromRoot(root, byID); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}
	if len(byID) == 0 {
		return nil, ErrNoPipelines
	}

	validate(byID)

	out := make([]*models.Pipeline, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func loadFromRoot(root string, byID map[string]*models.Pipeline) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != FileName {
			return nil
		}

		defs, err := Parse(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		for name, def := range defs {
			id := PipelineID(rel, name)
			if def == nil {
				def = &models.Definition{}
			}
			byID[id] = &models.Pipeline{
				ID:         id,
				Definition: def,
				Source:     models.SourceSpec{"path": path, "name": name},
			}
		}
		return nil
	})
}

// PipelineID builds "./<dir>/<name>" from a spec directory relative to its
// root.
func PipelineID(relDir, name string) string {
	relDir = filepath.ToSlash(relDir)
	if relDir == "." || relDir == "" {
		return "./" + name
	}
	return "./" + strings.TrimPrefix(relDir, "./") + "/" + name
}

func validate(byID map[string]*models.Pipeline) {
	for _, p := range byID {
		p.ValidationErrors = validateDefinition(p.Definition, byID)

		details, err := toDetails(p.Definition)
		if err != nil {
			p.ValidationErrors = append(p.ValidationErrors, models.ValidationError{Code: CodeInvalidPipeline, Message: err.Error()})
			details = models.Details{}
		}
		p.Details = details
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	hs := &hasher{byID: byID, done: map[string]string{}, cyclic: map[string]bool{}}
	for _, id := range ids {
		if _, err := hs.hash(id); err != nil {
			byID[id].ValidationErrors = append(byID[id].ValidationErrors, models.ValidationError{Code: CodeInvalidPipeline, Message: err.Error()})
		}
	}
	for _, id := range ids {
		p := byID[id]
		if hs.cyclic[id] {
			p.ValidationErrors = append(p.ValidationErrors, models.ValidationError{Code: CodeInvalidPipeline, Message: "dependency cycle"})
		}
		p.CacheHash = hs.done[id]
	}
}

func validateDefinition(def *models.Definition, byID map[string]*models.Pipeline) []models.ValidationError {
	var errs []models.ValidationError
	add := func(code, format string, args ...any) {
		errs = append(errs, models.ValidationError{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if len(def.Pipeline) == 0 {
		add(CodeInvalidPipeline, "pipeline has no steps")
	}
	for i, step := range def.Pipeline {
		if step.Run == "" {
			add(CodeInvalidStep, "step %d has no run", i+1)
		}
	}
	for _, h := range def.Hooks {
		hook := models.Hook(h)
		if !hook.IsHTTP() && !(hook.IsLua() && hook.ScriptPath() != "") {
			add(CodeInvalidHook, "unsupported hook target %q", h)
		}
	}
	for _, dep := range def.Dependencies {
		if _, ok := byID[dep.Pipeline]; !ok {
			add(CodeMissingDependency, "%s", dep.Pipeline)
		}
	}
	return errs
}

// hasher digests the steps of a pipeline together with the hashes of its
// dependencies, so a changed dependency changes every dependent. Every
// pipeline on a dependency cycle is marked cyclic.
type hasher struct {
	byID   map[string]*models.Pipeline
	done   map[string]string
	cyclic map[string]bool
	path   []string
}

func (hs *hasher) hash(id string) (string, error) {
	if h, ok := hs.done[id]; ok {
		return h, nil
	}
	p, ok := hs.byID[id]
	if !ok {
		return "", nil
	}
	if i := slices.Index(hs.path, id); i >= 0 {
		for _, member := range hs.path[i:] {
			hs.cyclic[member] = true
		}
		return "", nil
	}
	hs.path = append(hs.path, id)
	defer func() { hs.path = hs.path[:len(hs.path)-1] }()

	steps, err := json.Marshal(p.Definition.Pipeline)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode steps")
	}
	h := xxhash.New64()
	h.Write(steps)
	for _, dep := range p.Definition.Dependencies {
		depHash, err := hs.hash(dep.Pipeline)
		if err != nil {
			return "", errors.Wrapf(err, "dependency %s", dep.Pipeline)
		}
		h.Write([]byte(depHash))
	}

	sum := fmt.Sprintf("%016x", h.Sum64())
	hs.done[id] = sum
	return sum, nil
}

func toDetails(def *models.Definition) (models.Details, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var details models.Details
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, err
	}
	return details, nil
}
