package engine

import (
	"sort"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// TreeChildren returns the live (non-deleted), key-ordered children of
// parent. It never includes Root's ancestors or Trash as a child of
// anything; callers that want to enumerate deleted siblings too should use
// TreeDump instead.
func (e *Engine) TreeChildren(parent ids.NodeId) ([]ChildRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treeChildrenLocked(parent, true)
}

func (e *Engine) treeChildrenLocked(parent ids.NodeId, liveOnly bool) ([]ChildRow, error) {
	var rows []ChildRow
	for child := range e.childrenByParent[parent] {
		node, ok, err := e.treeStore.GetNode(child)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if liveOnly && node.Deleted() {
			continue
		}
		rows = append(rows, ChildRow{Node: child, Key: node.Key})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key.Equal(rows[j].Key) {
			return rows[i].Node.Less(rows[j].Node)
		}
		return rows[i].Key.Less(rows[j].Key)
	})
	return rows, nil
}

// TreeChildrenPage keyset-paginates TreeChildren's result using the
// (orderKey, nodeId) cursor from spec §4.5: results strictly after cursor
// (nil cursor means "from the start"), up to limit rows, plus whether more
// remain.
func (e *Engine) TreeChildrenPage(parent ids.NodeId, cursor *Cursor, limit int) ([]ChildRow, bool, error) {
	all, err := e.TreeChildren(parent)
	if err != nil {
		return nil, false, err
	}

	start := 0
	if cursor != nil {
		// First row strictly after (cursor.Key, cursor.Node) in the same
		// (key, then node) order TreeChildren sorts by.
		start = sort.Search(len(all), func(i int) bool {
			if c := all[i].Key.Compare(cursor.Key); c != 0 {
				return c > 0
			}
			return cursor.Node.Less(all[i].Node)
		})
	}

	if start >= len(all) {
		return nil, false, nil
	}
	end := start + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	page := make([]ChildRow, end-start)
	copy(page, all[start:end])
	return page, hasMore, nil
}

// TreeDump returns every materialized node whose current parent is parent,
// live or not — a debug/export surface that doesn't hide soft-deleted or
// tombstoned rows.
func (e *Engine) TreeDump(parent ids.NodeId) ([]ChildRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treeChildrenLocked(parent, false)
}

// TreeNodeCount reports the total number of materialized nodes, live or
// not, tracked by the tree store.
func (e *Engine) TreeNodeCount() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	count, err := e.treeStore.Count()
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.TreeNodeCount.Set(float64(count))
	}
	return count, nil
}
