package slink

import "strings"

// IndexNameSeparator joins the prefix and the collection part of an index name.
const IndexNameSeparator = "__"

// IndexName derives the search index name for a collection. The collection
// part is lowercased to satisfy the store's index naming rules, so collections
// whose names differ only by case map to the same index.
func IndexName(prefix, coll string) string {
	return prefix + IndexNameSeparator + strings.ToLower(coll)
}
