package pipeline

import (
	"github.com/teranos/plumb/errors"
)

var (
	validSourceTypes = map[SourceType]bool{
		SourceDataSource: true, SourceAPI: true, SourceFile: true, SourceDatabase: true, SourceStream: true,
	}
	validDestinationTypes = map[DestinationType]bool{
		DestinationDataSource: true, DestinationFile: true, DestinationDatabase: true, DestinationAPI: true,
	}
	validModes = map[WriteMode]bool{
		ModeAppend: true, ModeReplace: true, ModeUpsert: true,
	}
	validKinds = map[Kind]bool{
		KindFilter: true, KindMap: true, KindAggregate: true, KindJoin: true, KindCustom: true,
	}
	validStatuses = map[Status]bool{
		StatusDraft: true, StatusActive: true, StatusPaused: true, StatusFailed: true,
	}
)

// Validate checks the structural validity of a pipeline definition.
// Stage configurations are interpreted by the stage library at run time, so a
// stage with a bad operator is accepted here and fails the run instead.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.NewValidationError("pipeline name is required")
	}
	if !validStatuses[p.Status] {
		return errors.NewValidationError("unknown status %q", p.Status)
	}
	if !validSourceTypes[p.Source.Type] {
		return errors.WithHint(
			errors.NewValidationError("unknown source type %q", p.Source.Type),
			"use one of data_source, api, file, database, stream",
		)
	}
	if !validDestinationTypes[p.Destination.Type] {
		return errors.WithHint(
			errors.NewValidationError("unknown destination type %q", p.Destination.Type),
			"use one of data_source, file, database, api",
		)
	}
	if !validModes[p.Destination.Mode] {
		return errors.NewValidationError("unknown destination mode %q", p.Destination.Mode)
	}
	for i, f := range p.Source.Filters {
		if f.Column == "" {
			return errors.NewValidationError("source filter %d has no column", i)
		}
	}
	if err := ValidateTransformations(p.Transformations); err != nil {
		return err
	}
	if p.Schedule != "" {
		if _, err := ParseSchedule(p.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTransformations rejects unknown kinds and duplicate orders
func ValidateTransformations(ts []Transformation) error {
	seenOrders := make(map[int]string, len(ts))
	seenIDs := make(map[string]bool, len(ts))
	for _, t := range ts {
		if !validKinds[t.Kind] {
			return errors.NewValidationError("transformation %q has unknown kind %q", t.Name, t.Kind)
		}
		if other, dup := seenOrders[t.Order]; dup {
			return errors.NewValidationError("transformations %q and %q share order %d", other, t.Name, t.Order)
		}
		seenOrders[t.Order] = t.Name
		if t.ID != "" {
			if seenIDs[t.ID] {
				return errors.NewValidationError("duplicate transformation id %q", t.ID)
			}
			seenIDs[t.ID] = true
		}
	}
	return nil
}
