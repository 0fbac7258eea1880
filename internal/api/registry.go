package api

import (
	"github.com/atlasmap-sc/spotview/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// DatasetRegistry holds the sessions of all configured datasets.
type DatasetRegistry struct {
	sessions       map[string]*service.Session
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		sessions:       make(map[string]*service.Session),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds the session of a dataset.
func (r *DatasetRegistry) Register(s *service.Session) {
	r.sessions[s.ID()] = s
}

// Get returns the session for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.Session {
	return r.sessions[datasetID]
}

// Default returns the default dataset's session.
func (r *DatasetRegistry) Default() *service.Session {
	return r.sessions[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// Sessions returns the registered sessions in config order.
func (r *DatasetRegistry) Sessions() []*service.Session {
	out := make([]*service.Session, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		if s := r.sessions[id]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Spatial spot viewer"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, s := range r.Sessions() {
		infos = append(infos, DatasetInfo{
			ID:    s.ID(),
			Name:  s.Name(),
			State: s.Status().State,
		})
	}
	return infos
}
