package detection

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// RekognitionAPI is the subset of the Rekognition client used by RekognitionDetector
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectProtectiveEquipment(ctx context.Context, params *rekognition.DetectProtectiveEquipmentInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectProtectiveEquipmentOutput, error)
}

// RekognitionDetector implements Detector on Amazon Rekognition
type RekognitionDetector struct {
	client RekognitionAPI
	now    func() time.Time
}

// NewRekognitionDetector creates a new detector
func NewRekognitionDetector(client RekognitionAPI) *RekognitionDetector {
	return &RekognitionDetector{client: client, now: time.Now}
}

// image prefers inline bytes; otherwise the service reads the object itself
func image(ref ImageRef) (*types.Image, error) {
	if len(ref.Data) > 0 {
		return &types.Image{Bytes: ref.Data}, nil
	}
	if ref.Location.Bucket == "" || ref.Location.Key == "" {
		return nil, fmt.Errorf("image reference has neither bytes nor a location")
	}
	return &types.Image{S3Object: &types.S3Object{
		Bucket: aws.String(ref.Location.Bucket),
		Name:   aws.String(ref.Location.Key),
	}}, nil
}

func (d *RekognitionDetector) DetectLabels(ctx context.Context, ref ImageRef) (*LabelsResponse, error) {
	img, err := image(ref)
	if err != nil {
		return nil, err
	}

	out, err := d.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{Image: img})
	if err != nil {
		return nil, fmt.Errorf("detect labels failed: %w", err)
	}

	resp := &LabelsResponse{
		Labels:       make([]Label, 0, len(out.Labels)),
		ModelVersion: aws.ToString(out.LabelModelVersion),
	}
	for _, l := range out.Labels {
		label := Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
			Instances:  make([]Instance, 0, len(l.Instances)),
		}
		for _, inst := range l.Instances {
			label.Instances = append(label.Instances, Instance{
				BoundingBox: box(inst.BoundingBox),
				Confidence:  float64(aws.ToFloat32(inst.Confidence)),
			})
		}
		for _, p := range l.Parents {
			label.Parents = append(label.Parents, aws.ToString(p.Name))
		}
		resp.Labels = append(resp.Labels, label)
	}
	return resp, nil
}

func (d *RekognitionDetector) DetectProtectiveEquipment(ctx context.Context, ref ImageRef) (*PPEResponse, error) {
	img, err := image(ref)
	if err != nil {
		return nil, err
	}

	out, err := d.client.DetectProtectiveEquipment(ctx, &rekognition.DetectProtectiveEquipmentInput{Image: img})
	if err != nil {
		return nil, fmt.Errorf("detect protective equipment failed: %w", err)
	}

	resp := &PPEResponse{
		Persons:      make([]Person, 0, len(out.Persons)),
		ModelVersion: aws.ToString(out.ProtectiveEquipmentModelVersion),
		ResponseDate: d.responseDate(out.ResultMetadata),
	}
	for _, p := range out.Persons {
		person := Person{
			ID:          int(aws.ToInt32(p.Id)),
			BoundingBox: box(p.BoundingBox),
			Confidence:  float64(aws.ToFloat32(p.Confidence)),
			BodyParts:   make([]BodyPart, 0, len(p.BodyParts)),
		}
		for _, bp := range p.BodyParts {
			part := BodyPart{
				Name:                string(bp.Name),
				Confidence:          float64(aws.ToFloat32(bp.Confidence)),
				EquipmentDetections: make([]EquipmentDetection, 0, len(bp.EquipmentDetections)),
			}
			for _, eq := range bp.EquipmentDetections {
				covers := false
				if eq.CoversBodyPart != nil {
					covers = eq.CoversBodyPart.Value
				}
				part.EquipmentDetections = append(part.EquipmentDetections, EquipmentDetection{
					BoundingBox:    box(eq.BoundingBox),
					Confidence:     float64(aws.ToFloat32(eq.Confidence)),
					Type:           string(eq.Type),
					CoversBodyPart: covers,
				})
			}
			person.BodyParts = append(person.BodyParts, part)
		}
		resp.Persons = append(resp.Persons, person)
	}
	return resp, nil
}

// responseDate returns the Date header of the raw response, or the local
// clock in the same format when it is unavailable
func (d *RekognitionDetector) responseDate(md middleware.Metadata) string {
	if raw, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && raw != nil && raw.Response != nil {
		if date := raw.Header.Get("Date"); date != "" {
			return date
		}
	}
	return d.now().UTC().Format(http.TimeFormat)
}

func box(b *types.BoundingBox) BoundingBox {
	if b == nil {
		return BoundingBox{}
	}
	return BoundingBox{
		Width:  float64(aws.ToFloat32(b.Width)),
		Height: float64(aws.ToFloat32(b.Height)),
		Left:   float64(aws.ToFloat32(b.Left)),
		Top:    float64(aws.ToFloat32(b.Top)),
	}
}
