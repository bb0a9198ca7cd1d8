package types

import "sort"

// RenditionDescriptor describes one produced quality tier
type RenditionDescriptor struct {
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bitrate    int    `json:"bitrate"` // configured target, bits per second
	URL        string `json:"url"`
	SizeBytes  int64  `json:"size_bytes"`
}

// ArtifactBundle is the in-memory output of one encode: every file a player
// needs, keyed by file name, plus the names of the two playlists.
type ArtifactBundle struct {
	Files       map[string][]byte
	MasterName  string
	VariantName string
	Rendition   RenditionDescriptor
}

// Names returns the artifact file names in lexical order.
func (b *ArtifactBundle) Names() []string {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the byte length of the named artifact, or 0 if absent.
func (b *ArtifactBundle) Size(name string) int64 {
	return int64(len(b.Files[name]))
}

// TotalSize sums the byte length of every artifact.
func (b *ArtifactBundle) TotalSize() int64 {
	var total int64
	for _, data := range b.Files {
		total += int64(len(data))
	}
	return total
}

// CompletionResult carries what the pipeline records on a successful job
type CompletionResult struct {
	OutputURL      string
	Variants       []RenditionDescriptor
	TotalSizeBytes int64
}
