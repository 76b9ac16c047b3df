// Package pipeline models versioned pipeline definitions and owns their lifecycle
// through the Repository.
package pipeline

import (
	"sort"
	"time"

	"github.com/teranos/plumb/internal/util"
)

// Record is one row flowing through a pipeline
type Record = map[string]interface{}

// Status is the lifecycle state of a pipeline definition
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusFailed Status = "failed"
)

// SourceType selects the adapter used to extract records
type SourceType string

const (
	SourceDataSource SourceType = "data_source"
	SourceAPI        SourceType = "api"
	SourceFile       SourceType = "file"
	SourceDatabase   SourceType = "database"
	SourceStream     SourceType = "stream"
)

// DestinationType selects the adapter used to load records
type DestinationType string

const (
	DestinationDataSource DestinationType = "data_source"
	DestinationFile       DestinationType = "file"
	DestinationDatabase   DestinationType = "database"
	DestinationAPI        DestinationType = "api"
)

// WriteMode controls how a destination treats existing data
type WriteMode string

const (
	ModeAppend  WriteMode = "append"
	ModeReplace WriteMode = "replace"
	ModeUpsert  WriteMode = "upsert"
)

// Kind identifies a transformation stage implementation
type Kind string

const (
	KindFilter    Kind = "filter"
	KindMap       Kind = "map"
	KindAggregate Kind = "aggregate"
	KindJoin      Kind = "join"
	KindCustom    Kind = "custom"
)

// Condition is a single column predicate, used by source filters and filter stages
type Condition struct {
	Column   string      `json:"column" yaml:"column"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Source describes where records come from
type Source struct {
	Type    SourceType             `json:"type" yaml:"type"`
	Config  map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Schema  map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"` // JSON Schema each extracted record must satisfy
	Filters []Condition            `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Transformation is one stage of a pipeline
type Transformation struct {
	ID      string                 `json:"id" yaml:"id"`
	Name    string                 `json:"name" yaml:"name"`
	Kind    Kind                   `json:"kind" yaml:"kind"`
	Config  map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Order   int                    `json:"order" yaml:"order"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
}

// Destination describes where records are written
type Destination struct {
	Type   DestinationType        `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Mode   WriteMode              `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Monitoring is advisory alerting configuration carried with the definition
type Monitoring struct {
	Alerts     bool               `json:"alerts" yaml:"alerts"`
	Metrics    []string           `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Metadata is descriptive information about a pipeline
type Metadata struct {
	Version     string     `json:"version" yaml:"version"`
	Author      string     `json:"author,omitempty" yaml:"author,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Environment string     `json:"environment,omitempty" yaml:"environment,omitempty"`
	Monitoring  Monitoring `json:"monitoring" yaml:"monitoring"`
}

// Pipeline is a named, versioned definition of source, ordered stages and destination
type Pipeline struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Status          Status           `json:"status"`
	Source          Source           `json:"source"`
	Transformations []Transformation `json:"transformations"`
	Destination     Destination      `json:"destination"`
	Metadata        Metadata         `json:"metadata"`
	Schedule        string           `json:"schedule,omitempty"`
	Version         string           `json:"version"`
	VersionHistory  []string         `json:"versionHistory"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	LastRun         *time.Time       `json:"lastRun,omitempty"`
	NextRun         *time.Time       `json:"nextRun,omitempty"`
}

// Definition is the caller-supplied part of a pipeline, used to create one
type Definition struct {
	Name            string           `json:"name" yaml:"name" toml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Status          Status           `json:"status,omitempty" yaml:"status,omitempty" toml:"status"`
	Source          Source           `json:"source" yaml:"source" toml:"source"`
	Transformations []Transformation `json:"transformations,omitempty" yaml:"transformations,omitempty" toml:"transformations"`
	Destination     Destination      `json:"destination" yaml:"destination" toml:"destination"`
	Metadata        Metadata         `json:"metadata" yaml:"metadata" toml:"metadata"`
	Schedule        string           `json:"schedule,omitempty" yaml:"schedule,omitempty" toml:"schedule"`
}

// Patch carries the fields of an update; nil fields are left unchanged
type Patch struct {
	Name            *string           `json:"name,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Status          *Status           `json:"status,omitempty"`
	Source          *Source           `json:"source,omitempty"`
	Transformations *[]Transformation `json:"transformations,omitempty"`
	Destination     *Destination      `json:"destination,omitempty"`
	Metadata        *Metadata         `json:"metadata,omitempty"`
	Schedule        *string           `json:"schedule,omitempty"`
}

// Substantive reports whether the patch changes what the pipeline does,
// which is what triggers a version bump.
func (p Patch) Substantive() bool {
	return p.Source != nil || p.Transformations != nil || p.Destination != nil
}

// Empty reports whether the patch touches nothing at all
func (p Patch) Empty() bool {
	return !p.Substantive() && p.Name == nil && p.Description == nil &&
		p.Status == nil && p.Metadata == nil && p.Schedule == nil
}

// Stages returns the enabled transformations in ascending order
func (p *Pipeline) Stages() []Transformation {
	stages := make([]Transformation, 0, len(p.Transformations))
	for _, t := range p.Transformations {
		if t.Enabled {
			stages = append(stages, t)
		}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	return stages
}

// Definition returns the user-editable portion of the pipeline
func (p *Pipeline) Definition() Definition {
	c := p.Clone()
	return Definition{
		Name:            c.Name,
		Description:     c.Description,
		Status:          c.Status,
		Source:          c.Source,
		Transformations: c.Transformations,
		Destination:     c.Destination,
		Metadata:        c.Metadata,
		Schedule:        c.Schedule,
	}
}

// Clone returns a deep copy sharing no maps or slices with p
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	c := *p
	c.Source = p.Source.clone()
	c.Destination = p.Destination.clone()
	c.Metadata = p.Metadata.clone()
	c.Transformations = cloneTransformations(p.Transformations)
	c.VersionHistory = append([]string(nil), p.VersionHistory...)
	if p.LastRun != nil {
		c.LastRun = util.Ptr(*p.LastRun)
	}
	if p.NextRun != nil {
		c.NextRun = util.Ptr(*p.NextRun)
	}
	return &c
}

func (s Source) clone() Source {
	c := s
	c.Config = util.DeepCopyMap(s.Config)
	c.Schema = util.DeepCopyMap(s.Schema)
	if s.Filters != nil {
		c.Filters = make([]Condition, len(s.Filters))
		for i, f := range s.Filters {
			f.Value = util.DeepCopyValue(f.Value)
			c.Filters[i] = f
		}
	}
	return c
}

func (d Destination) clone() Destination {
	c := d
	c.Config = util.DeepCopyMap(d.Config)
	return c
}

func (m Metadata) clone() Metadata {
	c := m
	c.Tags = append([]string(nil), m.Tags...)
	c.Monitoring.Metrics = append([]string(nil), m.Monitoring.Metrics...)
	if m.Monitoring.Thresholds != nil {
		c.Monitoring.Thresholds = make(map[string]float64, len(m.Monitoring.Thresholds))
		for k, v := range m.Monitoring.Thresholds {
			c.Monitoring.Thresholds[k] = v
		}
	}
	return c
}

func cloneTransformations(ts []Transformation) []Transformation {
	if ts == nil {
		return nil
	}
	out := make([]Transformation, len(ts))
	for i, t := range ts {
		t.Config = util.DeepCopyMap(t.Config)
		out[i] = t
	}
	return out
}
