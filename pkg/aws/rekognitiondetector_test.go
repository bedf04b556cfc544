package aws_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rekognitiontypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	iaws "github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/stretchr/testify/require"
)

type mockRekognition struct {
	input  *rekognition.DetectLabelsInput
	output *rekognition.DetectLabelsOutput
	err    error
}

func (m *mockRekognition) DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	m.input = params
	return m.output, m.err
}

type memImages map[string][]byte

func (m memImages) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	data, ok := m[name]
	if !ok {
		return nil, types.ErrKeyNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memImages) Put(ctx context.Context, name string, contentType string, size int64, body io.Reader) error {
	return errors.New("read only")
}

func (m memImages) Delete(ctx context.Context, name string) error {
	return errors.New("read only")
}

func (m memImages) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestRekognitionDetector(t *testing.T) {
	output := &rekognition.DetectLabelsOutput{
		Labels: []rekognitiontypes.Label{
			{Name: aws.String("Dog"), Confidence: aws.Float32(99.5)},
			{Name: aws.String("Pet"), Confidence: aws.Float32(87.25)},
		},
	}

	t.Run("references image in bucket", func(t *testing.T) {
		client := &mockRekognition{output: output}
		detector := iaws.NewRekognitionDetectorWithClient(client, iaws.WithS3Source("images"))

		labels, err := detector.DetectLabels(t.Context(), "dog.jpg", 10, 75)
		require.NoError(t, err)
		require.Equal(t, []types.Label{{Name: "Dog", Confidence: 99.5}, {Name: "Pet", Confidence: 87.25}}, labels)

		require.Equal(t, "images", aws.ToString(client.input.Image.S3Object.Bucket))
		require.Equal(t, "uploads/dog.jpg", aws.ToString(client.input.Image.S3Object.Name))
		require.Nil(t, client.input.Image.Bytes)
		require.Equal(t, int32(10), aws.ToInt32(client.input.MaxLabels))
		require.Equal(t, float32(75), aws.ToFloat32(client.input.MinConfidence))
	})

	t.Run("sends bytes from image store", func(t *testing.T) {
		client := &mockRekognition{output: output}
		detector := iaws.NewRekognitionDetectorWithClient(client, iaws.WithImageSource(memImages{"dog.jpg": []byte("jpeg")}))

		_, err := detector.DetectLabels(t.Context(), "dog.jpg", 5, 50)
		require.NoError(t, err)
		require.Nil(t, client.input.Image.S3Object)
		require.Equal(t, []byte("jpeg"), client.input.Image.Bytes)
	})

	t.Run("missing image", func(t *testing.T) {
		detector := iaws.NewRekognitionDetectorWithClient(&mockRekognition{output: output}, iaws.WithImageSource(memImages{}))
		_, err := detector.DetectLabels(t.Context(), "dog.jpg", 5, 50)
		require.ErrorIs(t, err, types.ErrKeyNotFound)
	})

	t.Run("no source", func(t *testing.T) {
		detector := iaws.NewRekognitionDetectorWithClient(&mockRekognition{output: output})
		_, err := detector.DetectLabels(t.Context(), "dog.jpg", 5, 50)
		require.Error(t, err)
	})

	t.Run("service error", func(t *testing.T) {
		boom := errors.New("throttled")
		detector := iaws.NewRekognitionDetectorWithClient(&mockRekognition{err: boom}, iaws.WithS3Source("images"))
		_, err := detector.DetectLabels(t.Context(), "dog.jpg", 5, 50)
		require.ErrorIs(t, err, boom)
	})
}
