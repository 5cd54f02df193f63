package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Paintersrp/remotelaunch/internal/registry"
)

// ErrConfigLoad marks any failure to read or parse a launch file.
var ErrConfigLoad = errors.New("config load failed")

// File is a decoded launch file.
type File struct {
	Version string  `yaml:"version,omitempty" json:"version,omitempty"`
	Entries []Entry `yaml:"entries" json:"entries"`

	// Path is the absolute path the file was read from.
	Path string `yaml:"-" json:"-"`
}

// Entry declares one launchable command.
type Entry struct {
	Name    string `yaml:"name" json:"name"`
	Command string `yaml:"command" json:"command"`
	Workdir string `yaml:"workdir,omitempty" json:"workdir,omitempty"`
}

// Specs converts the entries to registry specs, preserving order.
func (f *File) Specs() []registry.Spec {
	if f == nil {
		return nil
	}
	specs := make([]registry.Spec, len(f.Entries))
	for i, e := range f.Entries {
		specs[i] = registry.Spec{Name: e.Name, Command: e.Command, Workdir: e.Workdir}
	}
	return specs
}

// Source reads a launch file every time Specs is called.
type Source struct {
	Path string
}

// Specs implements registry.Source.
func (s Source) Specs() ([]registry.Spec, error) {
	f, err := Load(s.Path)
	if err != nil {
		return nil, err
	}
	return f.Specs(), nil
}

func (f *File) validate() error {
	var problems []string
	for i, e := range f.Entries {
		if strings.TrimSpace(e.Name) == "" {
			problems = append(problems, fmt.Sprintf("%s: must not be empty", entryField(i, "name")))
		}
		if strings.TrimSpace(e.Command) == "" {
			problems = append(problems, fmt.Sprintf("%s: must not be empty", entryField(i, "command")))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "\n"))
	}
	return nil
}

func entryField(index int, field string) string {
	return "entries[" + strconv.Itoa(index) + "]." + field
}
