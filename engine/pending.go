package engine

import "github.com/cybersemics/treecrdt-sub003/ids"

// StorePending upserts an op into the pending-ops sidecar: its
// authorization status is unknown (spec §4.4 tri-valued scopes), so it is
// held out of the op log proper until auth re-evaluates it.
func (e *Engine) StorePending(row PendingRow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ops.PutPending(row); err != nil {
		return err
	}
	if e.metrics != nil {
		n, err := e.ops.AllPending()
		if err == nil {
			e.metrics.PendingOps.Set(float64(len(n)))
		}
	}
	return nil
}

// ListPendingOps returns every row currently held in the sidecar.
func (e *Engine) ListPendingOps() ([]PendingRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ops.AllPending()
}

// ListPendingOpRefs is ListPendingOps projected to just the opRefs, for
// callers that only need to know what's outstanding.
func (e *Engine) ListPendingOpRefs() ([]ids.OpRef, error) {
	rows, err := e.ListPendingOps()
	if err != nil {
		return nil, err
	}
	out := make([]ids.OpRef, len(rows))
	for i, r := range rows {
		out[i] = r.Ref
	}
	return out, nil
}

// DeletePendingOps removes rows from the sidecar once auth has resolved
// them — either by promoting them into Append or by discarding a denial.
func (e *Engine) DeletePendingOps(refs []ids.OpRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ref := range refs {
		if err := e.ops.DeletePending(ref); err != nil {
			return err
		}
	}
	if e.metrics != nil {
		n, err := e.ops.AllPending()
		if err == nil {
			e.metrics.PendingOps.Set(float64(len(n)))
		}
	}
	return nil
}
