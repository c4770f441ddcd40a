// Package inventory defines the fleet inventory model: hosts, groups, and
// the precedence-ordered data resolution used by operations and deploy
// scripts.
//
// # Model
//
// A Host carries its connection parameters and an ordered list of group
// memberships. Membership order is significant: it is the tie-break order
// for data resolution. Every host is a member of the implicit "all" group,
// always last, and of a group named after its inventory source file.
// A host's group list never changes after the inventory is built.
//
// # Data resolution
//
// For a given (host, key) pair, values are looked up through four levels:
//
//  1. run-level overrides (set once per run)
//  2. host data
//  3. group data, searched in the host's membership order (first group
//     that defines the key wins)
//  4. "all" group data
//
// Resolve returns (nil, false) when no level defines the key. Resolution
// is read-only and safe for concurrent use from many workers.
//
// # Loading
//
// LoadFile reads a YAML inventory (hosts list plus optional groups map).
// LoadGroupData merges CUE files from a group_data directory into group
// data, keyed by file base name. Both feed an Inventory that is sealed on
// construction.
package inventory
