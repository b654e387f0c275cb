package transcript

// TakeInfo tags a word as a member of one take of a take group.
type TakeInfo struct {
	TakeGroupID int `json:"takeGroupId"`
	TakeIndex   int `json:"takeIndex"`
}

// TakeGroup is a cluster of alternate recordings of the same passage.
// Takes are disjoint ranges ordered by position; exactly one take is active.
type TakeGroup struct {
	ID              int          `json:"id"`
	ActiveTakeIndex int          `json:"activeTakeIndex"`
	TakeCount       int          `json:"takeCount"`
	Takes           []IndexRange `json:"takes"`
}

// Span returns the range from the first take's start to the last take's end.
func (g TakeGroup) Span() IndexRange {
	if len(g.Takes) == 0 {
		return IndexRange{}
	}
	return IndexRange{StartIndex: g.Takes[0].StartIndex, EndIndex: g.Takes[len(g.Takes)-1].EndIndex}
}
