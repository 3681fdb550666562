// Package ir provides the loop-level intermediate representation that the
// scheduling layer rewrites.
//
// Nodes live in an arena owned by a Module and are addressed by Expr
// handles. A handle is only meaningful within its module: cloning a module
// produces fresh handles, and Rebase maps handles of the original onto the
// clone. ir imports nothing internal.
//
// Key design constraints:
//   - No process-wide state; loop variable names come from the module's
//     NameContext
//   - Dump is the structural identity of a module
//   - Primitives mutate nodes in place so loop handles stay valid across
//     rewrites
package ir
