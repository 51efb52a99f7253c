// Package domain holds the core types shared across the sending engine:
// campaigns, contacts, and send ledger records, with their closed status
// enumerations.
//
// Rules for this package:
//   - No imports of other internal packages. Domain types are leaves.
//   - Status fields are typed constants, never raw strings. Every transition
//     site handles the full enumeration.
//   - No persistence or transport concerns here; repositories and the engine
//     own those.
package domain
