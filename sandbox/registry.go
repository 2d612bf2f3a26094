package sandbox

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtinProfiles []byte

var sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Definition is the declarative form of a language profile, as found in
// profiles.yaml and in the languages section of the configuration.
type Definition struct {
	ID         string `yaml:"id"`
	Image      string `yaml:"image"`
	Command    string `yaml:"command"`
	Source     string `yaml:"source"`
	Build      string `yaml:"build"`
	Run        string `yaml:"run"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Profile describes how to run code for one language.
type Profile struct {
	ID      string
	Image   string
	Timeout time.Duration

	interpreter []string
	source      string
	build       string
	run         string
}

// Compiled reports whether the profile writes the code to a file and builds it.
func (p Profile) Compiled() bool {
	return p.source != ""
}

// Command returns the one-shot argv that runs code inside the profile's image.
func (p Profile) Command(code string) []string {
	if !p.Compiled() {
		argv := make([]string, 0, len(p.interpreter)+1)
		argv = append(argv, p.interpreter...)
		return append(argv, code)
	}

	steps := []string{fmt.Sprintf(`printf '%%s' "$1" > %s`, p.source)}
	if p.build != "" {
		steps = append(steps, p.build)
	}
	steps = append(steps, p.run)

	// The code travels as $1 so it is never parsed by the shell.
	return []string{"sh", "-c", strings.Join(steps, " && "), "sh", code}
}

func newProfile(def Definition) (Profile, error) {
	id := normalizeID(def.ID)
	if id == "" {
		return Profile{}, fmt.Errorf("profile id is required")
	}
	if def.Image == "" {
		return Profile{}, fmt.Errorf("profile %s: image is required", id)
	}
	if def.TimeoutSec < 0 {
		return Profile{}, fmt.Errorf("profile %s: timeout_sec must not be negative", id)
	}

	p := Profile{
		ID:      id,
		Image:   def.Image,
		Timeout: time.Duration(def.TimeoutSec) * time.Second,
	}

	switch {
	case def.Source != "":
		if !sourceNamePattern.MatchString(def.Source) {
			return Profile{}, fmt.Errorf("profile %s: invalid source file name %q", id, def.Source)
		}
		if def.Run == "" {
			return Profile{}, fmt.Errorf("profile %s: run is required for compiled profiles", id)
		}
		p.source, p.build, p.run = def.Source, def.Build, def.Run
	case def.Command != "":
		argv, err := shlex.Split(def.Command)
		if err != nil {
			return Profile{}, fmt.Errorf("profile %s: failed to parse command: %w", id, err)
		}
		if len(argv) == 0 {
			return Profile{}, fmt.Errorf("profile %s: command is empty", id)
		}
		p.interpreter = argv
	default:
		return Profile{}, fmt.Errorf("profile %s: either command or source and run must be set", id)
	}

	return p, nil
}

// Registry is an immutable table of language profiles.
type Registry struct {
	profiles map[string]Profile
	ids      []string
}

// NewRegistry builds a registry from definitions. Later definitions with the
// same id replace earlier ones but keep their position.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(defs))}
	for _, def := range defs {
		p, err := newProfile(def)
		if err != nil {
			return nil, err
		}
		if _, exists := r.profiles[p.ID]; !exists {
			r.ids = append(r.ids, p.ID)
		}
		r.profiles[p.ID] = p
	}
	if len(r.ids) == 0 {
		return nil, fmt.Errorf("no language profiles defined")
	}
	return r, nil
}

// BuiltinDefinitions returns the embedded profile table.
func BuiltinDefinitions() ([]Definition, error) {
	var defs []Definition
	if err := yaml.Unmarshal(builtinProfiles, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse built-in profiles: %w", err)
	}
	return defs, nil
}

// DefaultRegistry returns a registry holding only the built-in profiles.
func DefaultRegistry() (*Registry, error) {
	defs, err := BuiltinDefinitions()
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs)
}

// MergeDefinitions applies overrides to base. Non-empty override fields replace
// the matching built-in field; unknown ids are appended sorted by id.
func MergeDefinitions(base []Definition, overrides map[string]Definition) []Definition {
	merged := make([]Definition, len(base))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, def := range merged {
		index[normalizeID(def.ID)] = i
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		o := overrides[k]
		id := normalizeID(k)
		i, ok := index[id]
		if !ok {
			o.ID = id
			index[id] = len(merged)
			merged = append(merged, o)
			continue
		}
		def := merged[i]
		if o.Image != "" {
			def.Image = o.Image
		}
		if o.Command != "" {
			def.Command, def.Source, def.Build, def.Run = o.Command, "", "", ""
		}
		if o.Source != "" {
			def.Command, def.Source, def.Build, def.Run = "", o.Source, o.Build, o.Run
		}
		if o.TimeoutSec > 0 {
			def.TimeoutSec = o.TimeoutSec
		}
		merged[i] = def
	}
	return merged
}

// Resolve returns the profile for a language identifier.
func (r *Registry) Resolve(language string) (Profile, error) {
	p, ok := r.profiles[normalizeID(language)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return p, nil
}

// IDs lists the supported language identifiers in table order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Images lists the distinct images referenced by the registry.
func (r *Registry) Images() []string {
	seen := make(map[string]bool, len(r.ids))
	var images []string
	for _, id := range r.ids {
		img := r.profiles[id].Image
		if !seen[img] {
			seen[img] = true
			images = append(images, img)
		}
	}
	return images
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
