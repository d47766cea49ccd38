// Package history keeps a local record of image builds.
package history

import (
	"time"

	"github.com/crucialwebstudio/amify/pkg/builder"
)

// Version is the current history file format version.
const Version = "1.0"

// Record is one finished build.
type Record struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	AMIName   string            `json:"ami_name"`
	Region    string            `json:"region"`
	Images    map[string]string `json:"images,omitempty"`
	SourceAMI string            `json:"source_ami,omitempty"`
	Success   bool              `json:"success"`
	DryRun    bool              `json:"dry_run,omitempty"`
	Error     string            `json:"error,omitempty"`
	File      string            `json:"file,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// FromResult converts a build result into a record.
func FromResult(r *builder.Result, file string) Record {
	rec := Record{
		ID:        r.BuildID,
		Name:      r.Name,
		AMIName:   r.AMIName,
		Region:    r.Region,
		SourceAMI: r.SourceAMI,
		Success:   r.Success,
		DryRun:    r.DryRun,
		File:      file,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	}
	if len(r.Images) > 0 {
		rec.Images = make(map[string]string, len(r.Images))
		for k, v := range r.Images {
			rec.Images[k] = v
		}
	}
	if r.Error != nil {
		rec.Error = r.Error.Error()
	}
	return rec
}

// Status returns a short label for the outcome.
func (r Record) Status() string {
	switch {
	case r.Success && r.DryRun:
		return "dry-run"
	case r.Success && r.Error != "":
		return "leaked"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}

// File is the on-disk history document.
type File struct {
	Version string   `json:"version"`
	Records []Record `json:"records"`
}

// NewFile returns an empty history document.
func NewFile() *File {
	return &File{
		Version: Version,
		Records: []Record{},
	}
}
