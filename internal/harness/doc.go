// Package harness provides scenario-driven conformance testing for the
// scheduling rules.
//
// A scenario names a workload, a target and a rule list. The harness builds
// the workload, explores it with the rules, persists every leaf trace to a
// fresh in-memory store and evaluates the scenario's assertions against the
// leaves. Leaf traces can also be compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	spec: workloads.cue        # or an inline workload: block
//	workload_name: copy
//	target: { name: small, max_threads: 32, max_blocks: 4 }
//	rules: [auto_bind]
//	assertions:
//	  - type: leaf_count
//	    count: 1
//	  - type: trace_contains
//	    step: Bind
//	    attr: thread_axis
//	    value: threadIdx.x
//	  - type: trace_order
//	    steps: [Split, Bind, Bind]
//	  - type: trace_count
//	    step: Split
//	    count: 1
//	  - type: dump_contains
//	    text: "bind(threadIdx.x)"
//	  - type: source_contains
//	    text: "if (threadIdx.x < 32)"
//	  - type: replay_identical
//
// Assertions apply to leaf 0 unless they set leaf.
//
// # Determinism
//
// Session IDs come from a fixed generator and trace seq is the leaf index,
// so two runs of a scenario write identical store rows and golden files.
package harness
