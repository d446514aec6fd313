package model

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/job"
)

// Rom is one manifest entry: the ROM set name, its file and the checksum of a
// known good dump. An empty checksum means no good dump is known.
type Rom struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Checksum    string `yaml:"checksum,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Job converts the entry to a verification job.
func (r Rom) Job() job.Job {
	return job.Job{
		Key:  r.Name,
		Kind: job.KindVerifyRom,
		Payload: job.VerifyPayload{
			Path:        r.Path,
			Checksum:    r.Checksum,
			Description: r.Description,
		},
	}
}

// LoadManifest reads a YAML list of Rom entries. Relative paths are resolved
// against dir. Names must be unique and a path is required.
func LoadManifest(r io.Reader, dir string) ([]Rom, error) {
	var roms []Rom
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&roms); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	var errs []error
	seen := make(map[string]int, len(roms))
	for i, rom := range roms {
		path := fmt.Sprintf("roms[%d]", i)
		if rom.Name == "" {
			errs = append(errs, ConfigError{Path: path + ".name", Code: CodeMissing, Message: "Field name is required"})
		} else if first, ok := seen[rom.Name]; ok {
			errs = append(errs, ConfigError{
				Path:    path + ".name",
				Code:    CodeDuplicate,
				Message: fmt.Sprintf("%s already listed at roms[%d]", rom.Name, first),
			})
		} else {
			seen[rom.Name] = i
		}
		if rom.Path == "" {
			errs = append(errs, ConfigError{Path: path + ".path", Code: CodeMissing, Message: "Field path is required"})
			continue
		}
		if !filepath.IsAbs(rom.Path) && dir != "" {
			roms[i].Path = filepath.Join(dir, rom.Path)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return roms, nil
}

// Jobs converts manifest entries to verification jobs.
func Jobs(roms []Rom) []job.Job {
	jobs := make([]job.Job, 0, len(roms))
	for _, r := range roms {
		jobs = append(jobs, r.Job())
	}
	return jobs
}
