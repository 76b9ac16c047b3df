package adapter

import (
	"go.uber.org/zap"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

// TypeMemory registers the in-process adapter. It is not a pipeline source
// type; join datasets and tests address it directly.
const TypeMemory = "memory"

// Defaults bundles the built-in adapters so callers can reach them after registration
type Defaults struct {
	Registry   *Registry
	File       *FileAdapter
	Database   *DatabaseAdapter
	API        *APIAdapter
	Stream     *StreamAdapter
	Memory     *MemoryAdapter
	DataSource *DataSourceAdapter
}

// NewDefaultRegistry registers every built-in adapter
func NewDefaultRegistry(sources map[string]am.DataSourceConfig, log *zap.SugaredLogger) *Defaults {
	log = logger.OrNop(log)
	r := NewRegistry()
	d := &Defaults{
		Registry: r,
		File:     NewFileAdapter(log.Named("file")),
		Database: NewDatabaseAdapter(log.Named("database")),
		API:      NewAPIAdapter(log.Named("api")),
		Stream:   NewStreamAdapter(log.Named("stream")),
		Memory:   NewMemoryAdapter(),
	}
	d.DataSource = NewDataSourceAdapter(sources, r)

	r.RegisterExtractor(string(pipeline.SourceFile), d.File)
	r.RegisterExtractor(string(pipeline.SourceDatabase), d.Database)
	r.RegisterExtractor(string(pipeline.SourceAPI), d.API)
	r.RegisterExtractor(string(pipeline.SourceStream), d.Stream)
	r.RegisterExtractor(string(pipeline.SourceDataSource), d.DataSource)
	r.RegisterExtractor(TypeMemory, d.Memory)

	r.RegisterLoader(string(pipeline.DestinationFile), d.File)
	r.RegisterLoader(string(pipeline.DestinationDatabase), d.Database)
	r.RegisterLoader(string(pipeline.DestinationAPI), d.API)
	r.RegisterLoader(string(pipeline.DestinationDataSource), d.DataSource)
	r.RegisterLoader(TypeMemory, d.Memory)

	return d
}

// Close releases adapter resources
func (d *Defaults) Close() error {
	return d.Database.Close()
}
