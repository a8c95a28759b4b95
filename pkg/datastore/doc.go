// Package datastore persists keg's LinkState: the record of which package
// owns every path published into the shared root.
//
// The state lives in a single TOML file that is rewritten atomically
// (temporary file plus rename) after each change. Writers hold an
// advisory lock on a sibling lock file so that two keg processes never
// interleave their updates.
package datastore
