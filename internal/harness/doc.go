// Package harness runs conformance scenarios against the full storyflow
// stack: configuration, transaction engine, store and evaluator.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: nested_import
//	description: "A field importing a computed field sees its value"
//	config: |
//	  template: Article: {
//	    id: "00000000000000000000cafe"
//	    fields: [{ key: "price" }, { key: "total" }]
//	  }
//	documents:
//	  - name: a
//	    template: Article
//	    fields:
//	      price: [5, {"_": "*"}, 2]
//	      total: [{"id": "t", "field": "@a.price"}]
//	transactions:
//	  - client: editor
//	    seq: 1
//	    entries:
//	      - target: "@a.price"
//	        base: 1
//	        ops: [[0, 1, [10]]]
//	assertions:
//	  - type: values
//	    field: "@a.total"
//	    expect: [20]
//
// Streams, ops and expectations may name documents: "@doc" is a document
// id, "@doc.key" a field id and "%Template.key" a template-relative field
// id for fetch filters. Names that were not declared are left as written.
//
// # Assertion Types
//
//   - values: the field's evaluated values
//   - tree: the field's parsed tree, field type transform applied
//   - render: the render projection of the field's values
//   - stream: the stored token stream of the field
//   - error: evaluation fails with cyclic_import, depth_exceeded or malformed
//   - version: a target's version
//   - replay: the transaction log rebuilds the stored state exactly
//
// # Deterministic Testing
//
// Each run uses an in-memory SQLite database, sequential document ids
// (testutil.SequentialIDs) and the engine's logical clock, so traces are
// identical across runs and can be compared to golden snapshots.
package harness
