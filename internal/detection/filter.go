package detection

import "sort"

// LabelSummary is the compact label form handed to the prompt. Counts and
// Position are set only for labels that have spatial instances.
type LabelSummary struct {
	Name       string     `json:"Name"`
	Confidence float64    `json:"Confidence"`
	Counts     *int       `json:"Counts,omitempty"`
	Position   []Instance `json:"Position,omitempty"`
}

// HasInstances reports whether the summary is in count+position form
func (s LabelSummary) HasInstances() bool {
	return s.Counts != nil
}

// WorkerSummary is one person in left-to-right order
type WorkerSummary struct {
	WorkerID int               `json:"WorkerID"`
	Position BoundingBox       `json:"Position"`
	HavePPE  []map[string]bool `json:"HavePPE"`
}

// PPESummary is the compact protective-equipment form handed to the prompt
type PPESummary struct {
	PersonCount int             `json:"Number of Persons"`
	Persons     []WorkerSummary `json:"Persons"`
	ObservedAt  string          `json:"Current Time"`
}

// FilterLabels keeps every label and every instance; confidence filtering is
// left to annotation.
func FilterLabels(resp *LabelsResponse) []LabelSummary {
	if resp == nil {
		return []LabelSummary{}
	}

	out := make([]LabelSummary, 0, len(resp.Labels))
	for _, label := range resp.Labels {
		summary := LabelSummary{Name: label.Name, Confidence: label.Confidence}
		if len(label.Instances) > 0 {
			count := len(label.Instances)
			summary.Counts = &count
			summary.Position = append([]Instance(nil), label.Instances...)
		}
		out = append(out, summary)
	}
	return out
}

// FilterPPE orders persons by the left edge of their box (ties keep service
// order) and numbers them in that order.
func FilterPPE(resp *PPEResponse) PPESummary {
	if resp == nil {
		return PPESummary{Persons: []WorkerSummary{}}
	}

	persons := append([]Person(nil), resp.Persons...)
	sort.SliceStable(persons, func(i, j int) bool {
		return persons[i].BoundingBox.Left < persons[j].BoundingBox.Left
	})

	workers := make([]WorkerSummary, 0, len(persons))
	for i, person := range persons {
		havePPE := make([]map[string]bool, 0, len(person.BodyParts))
		for _, part := range person.BodyParts {
			havePPE = append(havePPE, map[string]bool{part.Name: len(part.EquipmentDetections) > 0})
		}
		workers = append(workers, WorkerSummary{
			WorkerID: i,
			Position: person.BoundingBox,
			HavePPE:  havePPE,
		})
	}

	return PPESummary{
		PersonCount: len(workers),
		Persons:     workers,
		ObservedAt:  resp.ResponseDate,
	}
}
