package txn

// Builder accumulates entries inside Create. It must not be shared across
// goroutines and must not be retained: once Create returns, any further use
// panics.
type Builder struct {
	entries []Entry
	index   map[string]int
	frozen  bool
}

// TargetBuilder appends operations to one target's entry.
type TargetBuilder struct {
	b    *Builder
	name string
}

// Create runs build against a fresh builder and returns the frozen result.
func Create(build func(b *Builder)) Transaction {
	b := &Builder{index: make(map[string]int)}
	build(b)
	b.frozen = true

	out := make(Transaction, len(b.entries))
	for i, e := range b.entries {
		ops := make([]Operation, len(e.Operations))
		copy(ops, e.Operations)
		out[i] = Entry{Target: e.Target, Operations: ops}
	}
	return out
}

// Target selects the entry for name. Entries appear in the order their
// targets first receive an operation.
func (b *Builder) Target(name string) *TargetBuilder {
	b.check()
	return &TargetBuilder{b: b, name: name}
}

func (b *Builder) check() {
	if b.frozen {
		panic("txn: builder used after Create returned")
	}
}

func (b *Builder) append(target string, op Operation) {
	b.check()
	i, ok := b.index[target]
	if !ok {
		i = len(b.entries)
		b.index[target] = i
		b.entries = append(b.entries, Entry{Target: target})
	}
	b.entries[i].Operations = append(b.entries[i].Operations, op)
}

// Splice appends splice operations in call order.
func (t *TargetBuilder) Splice(ops ...Splice) *TargetBuilder {
	for _, op := range ops {
		t.b.append(t.name, op)
	}
	return t
}

// Toggle appends toggle operations in call order.
func (t *TargetBuilder) Toggle(toggles ...Toggle) *TargetBuilder {
	for _, op := range toggles {
		t.b.append(t.name, op)
	}
	return t
}
