// Package types defines the core data model shared by keg's packages:
// formulae and their predicate-tagged specs, the resolved plan, the
// per-package build context, sealed staged installations and the link
// state that maps published paths to their owners.
package types
