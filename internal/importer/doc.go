// Package importer reconciles uploaded tabular rows against the ticket store.
//
// An import runs in two steps. Upload stores the raw payload as an
// ImportBatch owned by the acting user and returns a handle plus a preview
// (headers, sample rows, available mapping targets). Commit takes that
// handle and a CommitRequest describing the column mapping and policy
// flags, then walks every row in order:
//
//	Resolving -> Matching (update mode) -> Applying -> Linking -> Persisting
//
// Each row ends as exactly one of created, updated, skipped or failed. A
// row-level problem never stops the batch. The single exception is an
// ambiguous relation target, which aborts every remaining row because it
// means the chosen unique column cannot identify tickets in this data set.
//
// Lookups that repeat across rows (users, versions, tickets by unique
// value, trackers, statuses, priorities) are memoized for the lifetime of
// one commit. The caches are owned by the single processing pass and are
// never shared between commits.
package importer
