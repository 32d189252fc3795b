// Package detection wraps the label and protective-equipment detection
// service and normalizes its results into the compact shapes the prompt uses.
package detection

import (
	"context"

	"github.com/tendant/simple-hazard-pipeline/internal/storage"
)

// The raw types mirror the detection service's native schema; they are what
// the audit record stores.

// BoundingBox holds fractions of the image width and height
type BoundingBox struct {
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
}

// Instance is one spatial occurrence of a label
type Instance struct {
	BoundingBox BoundingBox `json:"BoundingBox"`
	Confidence  float64     `json:"Confidence"`
}

// Label is one detected label with optional instances
type Label struct {
	Name       string     `json:"Name"`
	Confidence float64    `json:"Confidence"`
	Instances  []Instance `json:"Instances"`
	Parents    []string   `json:"Parents,omitempty"`
}

// LabelsResponse is the general detection result
type LabelsResponse struct {
	Labels       []Label `json:"Labels"`
	ModelVersion string  `json:"LabelModelVersion,omitempty"`
}

// EquipmentDetection is one piece of equipment found on a body part
type EquipmentDetection struct {
	BoundingBox    BoundingBox `json:"BoundingBox"`
	Confidence     float64     `json:"Confidence"`
	Type           string      `json:"Type"`
	CoversBodyPart bool        `json:"CoversBodyPart"`
}

// BodyPart is a detected body part and the equipment found on it
type BodyPart struct {
	Name                string               `json:"Name"`
	Confidence          float64              `json:"Confidence"`
	EquipmentDetections []EquipmentDetection `json:"EquipmentDetections"`
}

// Person is one detected person
type Person struct {
	ID          int         `json:"Id"`
	BoundingBox BoundingBox `json:"BoundingBox"`
	Confidence  float64     `json:"Confidence"`
	BodyParts   []BodyPart  `json:"BodyParts"`
}

// PPEResponse is the protective-equipment detection result.
// ResponseDate is the service's HTTP Date header (RFC 1123).
type PPEResponse struct {
	Persons      []Person `json:"Persons"`
	ModelVersion string   `json:"ProtectiveEquipmentModelVersion,omitempty"`
	ResponseDate string   `json:"ResponseDate"`
}

// ImageRef identifies the image to analyze. Data is set when the detector
// should receive the bytes instead of a storage reference.
type ImageRef struct {
	Location storage.Location
	Data     []byte
}

// Detector runs both detection calls against one image
type Detector interface {
	DetectLabels(ctx context.Context, ref ImageRef) (*LabelsResponse, error)
	DetectProtectiveEquipment(ctx context.Context, ref ImageRef) (*PPEResponse, error)
}
