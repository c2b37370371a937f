// Package registry tracks known agents, their declared capability sets,
// and live workload and performance counters.
//
// The registry is the single owner of workload state: the delegation engine
// and the session manager mutate workload exclusively through
// UpdateWorkload and RecordOutcome, never by direct field assignment.
package registry
