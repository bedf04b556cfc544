package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rekognitiontypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	istypes "github.com/blue-mimo/image-labelling/pkg/types"
)

// RekognitionAPIClient is the subset of the Rekognition client used for label
// detection
type RekognitionAPIClient interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// maximum image size Rekognition accepts as inline bytes
const maxInlineImageBytes = 5 * 1024 * 1024

// RekognitionDetector implements types.LabelDetector with Amazon Rekognition.
// Images are referenced in place in S3 when a bucket is configured, otherwise
// their bytes are read from an image store and sent inline.
type RekognitionDetector struct {
	client RekognitionAPIClient
	bucket string
	images istypes.ImageStore
}

var _ istypes.LabelDetector = (*RekognitionDetector)(nil)

// DetectorOption configures a RekognitionDetector
type DetectorOption func(*RekognitionDetector)

// WithS3Source makes the detector reference images directly in the bucket.
func WithS3Source(bucket string) DetectorOption {
	return func(d *RekognitionDetector) {
		d.bucket = bucket
	}
}

// WithImageSource makes the detector send image bytes read from the store.
func WithImageSource(images istypes.ImageStore) DetectorOption {
	return func(d *RekognitionDetector) {
		d.images = images
	}
}

// NewRekognitionDetector returns a detector using a Rekognition client built
// from the config.
func NewRekognitionDetector(cfg aws.Config, opts ...DetectorOption) *RekognitionDetector {
	return NewRekognitionDetectorWithClient(rekognition.NewFromConfig(cfg), opts...)
}

// NewRekognitionDetectorWithClient returns a detector using the given client.
func NewRekognitionDetectorWithClient(client RekognitionAPIClient, opts ...DetectorOption) *RekognitionDetector {
	d := &RekognitionDetector{client: client}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectLabels implements types.LabelDetector.
func (d *RekognitionDetector) DetectLabels(ctx context.Context, image string, maxLabels int, minConfidence float64) ([]istypes.Label, error) {
	img, err := d.source(ctx, image)
	if err != nil {
		return nil, err
	}

	out, err := d.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         img,
		MaxLabels:     aws.Int32(int32(maxLabels)),
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		return nil, fmt.Errorf("detecting labels for %s: %w", image, err)
	}

	labels := make([]istypes.Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		labels = append(labels, istypes.Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}
	return labels, nil
}

func (d *RekognitionDetector) source(ctx context.Context, image string) (*rekognitiontypes.Image, error) {
	if d.bucket != "" {
		return &rekognitiontypes.Image{
			S3Object: &rekognitiontypes.S3Object{
				Bucket: aws.String(d.bucket),
				Name:   aws.String(imageutil.ObjectKey(image)),
			},
		}, nil
	}
	if d.images == nil {
		return nil, fmt.Errorf("no image source configured for label detection")
	}

	r, err := d.images.Get(ctx, image)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, maxInlineImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", image, err)
	}
	if len(data) > maxInlineImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes for inline detection", image, maxInlineImageBytes)
	}
	return &rekognitiontypes.Image{Bytes: data}, nil
}
