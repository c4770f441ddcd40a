// Package plan turns ordered operation registrations into an immutable,
// host-scoped execution plan.
//
// A Builder is bound to a sealed inventory and an operation registry.
// Each Add call records one step: the named operation, its argument map,
// its call configuration, and the hosts in scope at the time of the
// call. Steps never merge; registering the same operation twice with
// identical arguments produces two distinct steps, and every step
// carries a global order index that fixes execution order across all
// hosts.
//
// Limit returns a narrowed view of the same builder. Views share the
// global step sequence, so interleaved Add calls on different views stay
// totally ordered; nested limits intersect their host sets.
//
// Build seals the builder and returns the Plan. The plan is the unit
// handed to the execution engine and to policy evaluation. It never
// changes after Build, and a sealed builder rejects further
// registrations.
package plan
