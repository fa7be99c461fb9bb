package models

// HeatmapMethod is the axis that drives clustering.
type HeatmapMethod string

const (
	MethodANI HeatmapMethod = "ani"
	MethodAF  HeatmapMethod = "af"
)

// ParseHeatmapMethod parses "ani" or "af".
func ParseHeatmapMethod(s string) (HeatmapMethod, bool) {
	switch HeatmapMethod(s) {
	case MethodANI, MethodAF:
		return HeatmapMethod(s), true
	}
	return "", false
}

// DendrogramNode is one merge of the agglomerative clustering, scipy-style:
// Left and Right index leaves below n and earlier merges at n+k.
type DendrogramNode struct {
	Left     int     `json:"left"`
	Right    int     `json:"right"`
	Distance float64 `json:"distance"`
	Size     int     `json:"size"`
}

// Heatmap is the clustered heatmap projection of a job.
type Heatmap struct {
	JobID      string           `json:"jobId"`
	Completed  bool             `json:"completed"`
	ANI        [][]float64      `json:"ani"`
	AF         [][]float64      `json:"af"`
	XLabels    []string         `json:"xLabels"`
	YLabels    []string         `json:"yLabels"`
	XSpecies   []string         `json:"xSpecies"`
	YSpecies   []string         `json:"ySpecies"`
	Method     HeatmapMethod    `json:"method"`
	SpReps     []string         `json:"spReps"`
	Dendrogram []DendrogramNode `json:"dendrogram"`
	LeafOrder  []string         `json:"leafOrder"`
}
