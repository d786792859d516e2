// Package quota tracks how many megabytes of each bucket's allotment are in
// use.
//
// Sizes are accounted in whole MiB, rounded up. Callers check space with
// Reserve before any remote side effect and call Commit once the catalog
// row for the new file exists. Deletions call Release, which clamps usage at
// zero. Usage may briefly exceed the allotment in advisory mode when two
// requests race between Reserve and Commit.
package quota
