package models

// SceneDescriptor is one unit of narrative content slated for generation.
// Index is its ordinal position and decides playback order.
type SceneDescriptor struct {
	Index         int    `json:"index"`
	VisualPrompt  string `json:"visualPrompt"`
	NarrationText string `json:"narrationText,omitempty"`
}

// ItemStatus is the lifecycle state of a ProducedItem.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
)

// Media kinds of a produced visual.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// ProducedItem is the terminal result of generating assets for one scene.
type ProducedItem struct {
	ID           string     `json:"id"`
	SourceIndex  int        `json:"sourceIndex"`
	Status       ItemStatus `json:"status"`
	AssetRef     string     `json:"assetRef,omitempty"`
	NarrationRef string     `json:"narrationRef,omitempty"`
	ErrorDetail  string     `json:"errorDetail,omitempty"`

	Prompt          string  `json:"prompt"`
	ScriptSegment   string  `json:"scriptSegment,omitempty"`
	MediaKind       string  `json:"mediaKind,omitempty"`
	Transition      string  `json:"transition,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Terminal reports whether the item has left the pending state.
func (i ProducedItem) Terminal() bool {
	return i.Status == ItemSucceeded || i.Status == ItemFailed
}

// BatchRun is one execution of the production pipeline.
type BatchRun struct {
	Items            []ProducedItem `json:"items"`
	ConcurrencyLimit int            `json:"concurrencyLimit"`
	CompletedCount   int            `json:"completedCount"`
	TotalCount       int            `json:"totalCount"`
}

// Succeeded returns the items that produced an asset.
func (b BatchRun) Succeeded() []ProducedItem {
	var out []ProducedItem
	for _, it := range b.Items {
		if it.Status == ItemSucceeded {
			out = append(out, it)
		}
	}
	return out
}

// Failed returns the items that ended in failure.
func (b BatchRun) Failed() []ProducedItem {
	var out []ProducedItem
	for _, it := range b.Items {
		if it.Status == ItemFailed {
			out = append(out, it)
		}
	}
	return out
}
