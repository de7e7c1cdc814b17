// Package store defines interfaces for persistence dependencies (crawl runs,
// per-site fetch stats and the media capture index). Implementations live in
// other packages; this package must not import database drivers or concrete
// clients.
package store
