// Package workflow holds the pure stage-progression rules for lab cases:
// cursor movement, delivery derivation, forced completion on approval,
// reconciliation after a stage template disappears and catalog renumbering.
//
// Nothing here touches storage. Callers load a case, apply one of these
// functions to a clone and persist the result in a single write.
package workflow
