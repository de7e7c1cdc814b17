// Package crawler holds the resource model that flows through the fetch and
// extract chain, the hop and annotation vocabulary, and the collaborator
// interfaces implemented by the rest of the module.
package crawler
