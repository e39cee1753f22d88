package traversal

import (
	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// FilterRef keeps items for which pred returns true. Errors from pred
// become error items; upstream errors pass through untouched.
func (t *Traversal) FilterRef(pred func(TraversalVal, *storage.Txn) (bool, error)) *Traversal {
	return t.with(filterIter(t.inner, t.txn, pred))
}

// FilterMut is the mutating-pipeline filter; the predicate may rewrite
// item properties in place before the decision.
func (t *RwTraversal) FilterMut(pred func(*TraversalVal, *storage.Txn) (bool, error)) *RwTraversal {
	inner := t.inner
	txn := t.txn
	return t.with(funcIter(func() (Item, bool) {
		for {
			item, ok := inner.Next()
			if !ok {
				return Item{}, false
			}
			if item.Err != nil {
				return item, true
			}
			keep, err := pred(&item.Val, txn)
			if err != nil {
				return errItem(err), true
			}
			if keep {
				return item, true
			}
		}
	}))
}

func filterIter(inner Iter, txn *storage.Txn, pred func(TraversalVal, *storage.Txn) (bool, error)) Iter {
	return funcIter(func() (Item, bool) {
		for {
			item, ok := inner.Next()
			if !ok {
				return Item{}, false
			}
			if item.Err != nil {
				return item, true
			}
			keep, err := pred(item.Val, txn)
			if err != nil {
				return errItem(err), true
			}
			if keep {
				return item, true
			}
		}
	})
}

// Map transforms each item. f may spawn sub-traversals on the same
// transaction.
func (t *Traversal) Map(f func(TraversalVal, *storage.Txn) (TraversalVal, error)) *Traversal {
	inner := t.inner
	txn := t.txn
	return t.with(funcIter(func() (Item, bool) {
		item, ok := inner.Next()
		if !ok {
			return Item{}, false
		}
		if item.Err != nil {
			return item, true
		}
		mapped, err := f(item.Val, txn)
		if err != nil {
			return errItem(err), true
		}
		return okItem(mapped), true
	}))
}

// Range skips the first skip items and passes through at most take.
func (t *Traversal) Range(skip, take int) *Traversal {
	return t.with(rangeIter(t.inner, skip, take))
}

func rangeIter(inner Iter, skip, take int) Iter {
	skipped := 0
	taken := 0
	return funcIter(func() (Item, bool) {
		for {
			if taken >= take {
				return Item{}, false
			}
			item, ok := inner.Next()
			if !ok {
				return Item{}, false
			}
			if skipped < skip {
				skipped++
				continue
			}
			taken++
			return item, true
		}
	})
}

// Dedup drops later items whose id was already seen. First occurrence
// wins; items without an id always pass.
func (t *Traversal) Dedup() *Traversal {
	inner := t.inner
	seen := make(map[protocol.ID]struct{})
	return t.with(funcIter(func() (Item, bool) {
		for {
			item, ok := inner.Next()
			if !ok {
				return Item{}, false
			}
			if item.Err != nil {
				return item, true
			}
			if id, hasID := item.Val.ID(); hasID {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			return item, true
		}
	}))
}

// Props projects the named properties of each item into a scalar object
// value.
func (t *Traversal) Props(names ...string) *Traversal {
	inner := t.inner
	return t.with(funcIter(func() (Item, bool) {
		item, ok := inner.Next()
		if !ok {
			return Item{}, false
		}
		if item.Err != nil {
			return item, true
		}
		obj := make(map[string]protocol.Value, len(names))
		for _, name := range names {
			v, err := item.Val.CheckProperty(name)
			if err != nil {
				return errItem(err), true
			}
			obj[name] = v
		}
		return okItem(ScalarVal(protocol.Object(obj))), true
	}))
}
