//go:build integration

package volume

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// localstackEndpoint starts a Localstack container, or uses
// LOCALSTACK_ENDPOINT when set.
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":              "s3",
				"DEFAULT_REGION":        "us-east-1",
				"EAGER_SERVICE_LOADING": "1",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4566/tcp"),
				wait.ForHTTP("/_localstack/health").
					WithPort("4566/tcp").
					WithStartupTimeout(60*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start localstack")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestS3Volume(t *testing.T) {
	endpoint := localstackEndpoint(t)
	ctx := context.Background()

	spec := S3Spec{
		Bucket:          fmt.Sprintf("dittoblk-%d", time.Now().UnixNano()),
		Region:          "us-east-1",
		Endpoint:        endpoint,
		KeyPrefix:       "vol0/",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	}

	v, err := OpenS3(ctx, spec, 0)
	require.NoError(t, err)
	_, err = v.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(spec.Bucket)})
	require.NoError(t, err)
	require.NoError(t, v.Healthcheck(ctx))

	runConformance(t, func(t *testing.T) Volume { return v })

	data := bytes.Repeat([]byte{0x5A}, 2*GranuleSize)
	require.NoError(t, v.WriteAt(ctx, data, 100*GranuleSize))

	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(spec.Bucket),
		Key:    aws.String("vol0/0000000000000065"),
	})
	assert.NoError(t, err, "granule 101 stored under its hex index")
}
