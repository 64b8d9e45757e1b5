package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type StepMode int

const (
	StepSingle StepMode = iota
	// StepOneOf runs one task picked at random.
	StepOneOf
	// StepShuffle runs every task in random order.
	StepShuffle
)

// Step is one entry of a preset: a task name, a list to pick one task
// from, or a {shuffle: [...]} block.
type Step struct {
	Mode  StepMode
	Tasks []string
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Mode = StepSingle
		s.Tasks = []string{strings.TrimSpace(node.Value)}
		return nil
	case yaml.SequenceNode:
		s.Mode = StepOneOf
		return node.Decode(&s.Tasks)
	case yaml.MappingNode:
		var block struct {
			Shuffle []string `yaml:"shuffle"`
			OneOf   []string `yaml:"one_of"`
		}
		if err := node.Decode(&block); err != nil {
			return err
		}
		switch {
		case len(block.Shuffle) > 0:
			s.Mode, s.Tasks = StepShuffle, block.Shuffle
		case len(block.OneOf) > 0:
			s.Mode, s.Tasks = StepOneOf, block.OneOf
		default:
			return fmt.Errorf("line %d: task block needs shuffle or one_of", node.Line)
		}
		return nil
	default:
		return fmt.Errorf("line %d: unsupported task step", node.Line)
	}
}

type TaskFile struct {
	Preset  string            `yaml:"preset"`
	Presets map[string][]Step `yaml:"presets"`
}

func ParseTaskFile(b []byte) (TaskFile, error) {
	var tf TaskFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return TaskFile{}, fmt.Errorf("failed to parse task presets: %w", err)
	}
	return tf, nil
}

// Expand flattens the named preset into an ordered task list, resolving
// random steps with r.
func (tf TaskFile) Expand(name string, r *rand.Rand) ([]string, error) {
	if name == "" {
		name = tf.Preset
	}
	steps, ok := tf.Presets[name]
	if !ok {
		return nil, fmt.Errorf("task preset %q not found", name)
	}

	var tasks []string
	for _, step := range steps {
		switch step.Mode {
		case StepOneOf:
			if len(step.Tasks) > 0 {
				tasks = append(tasks, step.Tasks[r.IntN(len(step.Tasks))])
			}
		case StepShuffle:
			shuffled := append([]string(nil), step.Tasks...)
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			tasks = append(tasks, shuffled...)
		default:
			tasks = append(tasks, step.Tasks...)
		}
	}

	out := tasks[:0]
	for _, t := range tasks {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("task preset is empty")
	}
	return out, nil
}

// LoadTasks reads TasksPath and expands the preset chosen by TASK_PRESET or
// the file's own preset key. Each call draws random steps afresh.
func (c Config) LoadTasks(r *rand.Rand) ([]string, error) {
	b, err := os.ReadFile(c.TasksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read task presets: %w", err)
	}
	tf, err := ParseTaskFile(b)
	if err != nil {
		return nil, err
	}
	return tf.Expand(c.TaskPreset, r)
}
