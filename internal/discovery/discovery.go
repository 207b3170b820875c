package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iot"

	"github.com/oshokin/fleet-commander/internal/logger"
)

// endpointType selects the data-plane endpoint flavor served over TLS.
const endpointType = "iot:Data-ATS"

var (
	// errRegionRequired is returned when discovery is attempted without a region.
	errRegionRequired = errors.New("region must be provided for endpoint discovery")
	// errEmptyEndpoint is returned when the control plane answers without an address.
	errEmptyEndpoint = errors.New("control plane returned an empty endpoint address")
)

// Discoverer resolves the broker endpoint for a region.
type Discoverer interface {
	DiscoverEndpoint(ctx context.Context, region string) (string, error)
}

// IoTDiscoverer resolves the data endpoint through the IoT control plane.
type IoTDiscoverer struct{}

// NewIoTDiscoverer returns a Discoverer backed by the IoT control plane.
func NewIoTDiscoverer() *IoTDiscoverer {
	return &IoTDiscoverer{}
}

// DiscoverEndpoint asks the control plane for the region's data endpoint.
// Credentials come from the default provider chain of the environment.
func (d *IoTDiscoverer) DiscoverEndpoint(ctx context.Context, region string) (string, error) {
	if region == "" {
		return "", errRegionRequired
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := iot.NewFromConfig(awsCfg)

	output, err := client.DescribeEndpoint(ctx, &iot.DescribeEndpointInput{
		EndpointType: aws.String(endpointType),
	})
	if err != nil {
		return "", fmt.Errorf("describe endpoint in %s: %w", region, err)
	}

	endpoint := aws.ToString(output.EndpointAddress)
	if endpoint == "" {
		return "", errEmptyEndpoint
	}

	logger.InfoKV(ctx, "Discovered broker endpoint", "region", region, "endpoint", endpoint)

	return endpoint, nil
}
