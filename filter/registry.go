// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filter

import (
	"github.com/ebay/sieve/querier"
	"github.com/google/btree"
)

// Registry holds the queries running in one engine, ordered by identifier. It
// is not safe for concurrent use: it's owned by a single engine goroutine.
type Registry struct {
	// Each item in the btree has type registryItem.
	tree *btree.BTree
}

// registryItem values are stored in the btree.
type registryItem struct {
	// The key in the btree.
	id string
	// The value in the btree. Nil when the item is only used for lookups.
	q *querier.Querier
}

// Less is needed to order the btree. Lookups and deletes work with a nil
// querier.
func (item registryItem) Less(other btree.Item) bool {
	return item.id < other.(registryItem).id
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tree: btree.New(16)}
}

// Insert adds the querier under its ID. It returns false and leaves the
// registry unchanged if a querier with that ID is already present.
func (reg *Registry) Insert(q *querier.Querier) bool {
	item := registryItem{id: q.ID(), q: q}
	if reg.tree.Has(item) {
		return false
	}
	reg.tree.ReplaceOrInsert(item)
	return true
}

// Get returns the querier with the given ID, or nil.
func (reg *Registry) Get(id string) *querier.Querier {
	found := reg.tree.Get(registryItem{id: id})
	if found == nil {
		return nil
	}
	return found.(registryItem).q
}

// Remove deletes the querier with the given ID. It returns false if there was
// no such querier.
func (reg *Registry) Remove(id string) bool {
	return reg.tree.Delete(registryItem{id: id}) != nil
}

// Len returns the number of queriers in the registry.
func (reg *Registry) Len() int {
	return reg.tree.Len()
}

// Ascend calls fn on each querier in order of ID until fn returns false. fn
// must not modify the registry.
func (reg *Registry) Ascend(fn func(q *querier.Querier) bool) {
	reg.tree.Ascend(func(item btree.Item) bool {
		return fn(item.(registryItem).q)
	})
}

// IDs returns the identifiers of every querier, in order.
func (reg *Registry) IDs() []string {
	ids := make([]string, 0, reg.Len())
	reg.Ascend(func(q *querier.Querier) bool {
		ids = append(ids, q.ID())
		return true
	})
	return ids
}
