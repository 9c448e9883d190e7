package testutil

// FixedClientGenerator hands out the same client id every time.
//
// Unlike engine.FixedGenerator, which returns ids in sequence, every caller
// shares one client, the usual shape of a single-editor scenario.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedClientGenerator struct {
	id string
}

// NewFixedClientGenerator creates a generator for id. An empty id becomes
// "test-client".
func NewFixedClientGenerator(id string) *FixedClientGenerator {
	if id == "" {
		id = "test-client"
	}
	return &FixedClientGenerator{id: id}
}

// Generate returns the fixed client id.
func (g *FixedClientGenerator) Generate() string {
	return g.id
}
