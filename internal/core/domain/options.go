package domain

const (
	DefaultChunkSize    = 1024
	DefaultMinChunkSize = 100
	DefaultChunkOverlap = 200
)

// ProcessingOptions tune chunking for one processing run. Sizes are in runes
// of extracted text.
type ProcessingOptions struct {
	ChunkSize    int `json:"chunk_size"`
	MinChunkSize int `json:"min_chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{
		ChunkSize:    DefaultChunkSize,
		MinChunkSize: DefaultMinChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Normalize fills unset sizes with defaults and clamps overlap below the
// chunk size so windows always advance.
func (o ProcessingOptions) Normalize() ProcessingOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MinChunkSize <= 0 {
		o.MinChunkSize = DefaultMinChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 2
	}
	if o.MinChunkSize > o.ChunkSize {
		o.MinChunkSize = o.ChunkSize
	}
	return o
}
