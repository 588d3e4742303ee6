// Package resolver decides which work items are eligible to start. It walks
// each item's dependency edges depth-first, memoizing results for a single
// pass, and treats cycles as permanently unsatisfied rather than failing.
package resolver
