package pagecache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// keyPrefix starts every page cache key.
const keyPrefix = "pager"

// defaultNamespace is used when Key.Namespace is empty.
const defaultNamespace = "default"

// Key identifies one cached page of one query.
type Key struct {
	// Namespace groups the pages of one source, e.g. "recent" or "search".
	Namespace string

	// Params are the query parameters that select the result set.
	Params url.Values

	// Page is the 1-based page number.
	Page int

	// PageSize is the number of items requested per page.
	PageSize int
}

// String generates a deterministic key string.
//
// Example:
//
//	pager:search:q=cats:page=3:size=100
func (k Key) String() string {
	parts := []string{keyPrefix, namespace(k.Namespace)}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Params[name], ",")))
		}
	}

	parts = append(parts,
		fmt.Sprintf("page=%d", k.Page),
		fmt.Sprintf("size=%d", k.PageSize),
	)

	return strings.Join(parts, ":")
}

// namespacePattern matches every key of a namespace.
func namespacePattern(ns string) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, namespace(ns))
}

func namespace(ns string) string {
	ns = strings.Trim(ns, ": ")
	if ns == "" {
		return defaultNamespace
	}
	return ns
}
