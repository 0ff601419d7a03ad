package storage

// RowCounts is the number of stored rows of each kind.
type RowCounts struct {
	Vertices        int64 `json:"vertices"`
	Edges           int64 `json:"edges"`
	VertexIndexRows int64 `json:"vertex_index_rows"`
	EndpointRows    int64 `json:"endpoint_rows"`
	EdgeIndexRows   int64 `json:"edge_index_rows"`
	Indexes         int64 `json:"indexes"`
}

// RowCounts counts rows by scanning keys only. It is O(rows) and meant for
// diagnostics, not hot paths.
func (b *BadgerEngine) RowCounts() (RowCounts, error) {
	var counts RowCounts
	targets := []struct {
		prefix byte
		dst    *int64
	}{
		{prefixVertexRecord, &counts.Vertices},
		{prefixEdgeRecord, &counts.Edges},
		{prefixVertexIndex, &counts.VertexIndexRows},
		{prefixEndpointIndex, &counts.EndpointRows},
		{prefixEdgeIndex, &counts.EdgeIndexRows},
		{prefixIndexMeta, &counts.Indexes},
	}

	err := b.inTxn(false, func(t badgerTxn) error {
		for _, target := range targets {
			*target.dst = t.countKeys([]byte{target.prefix})
		}
		return nil
	})
	return counts, err
}
