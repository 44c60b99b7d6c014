package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	EC2API
	describeTypesOut *ec2.DescribeInstanceTypesOutput
	runOut           *ec2.RunInstancesOutput
	runErr           error
	terminateErr     error
}

func (f *fakeEC2) DescribeInstanceTypes(ctx context.Context, in *ec2.DescribeInstanceTypesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	return f.describeTypesOut, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, opts ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	return f.runOut, f.runErr
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	return &ec2.TerminateInstancesOutput{}, f.terminateErr
}

type fakePricing struct{}

func (fakePricing) GetProducts(ctx context.Context, in *pricing.GetProductsInput, opts ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	return &pricing.GetProductsOutput{
		PriceList: []string{`{"terms":{"OnDemand":{"x":{"priceDimensions":{"y":{"pricePerUnit":{"USD":"0.096"}}}}}}}`},
	}, nil
}

func TestGetOffersCached_FiltersByResourcesAndAttachesPrice(t *testing.T) {
	b := &Backend{
		id:      "aws-1",
		regions: []string{"us-east-1"},
		pricing: fakePricing{},
		ec2: &fakeEC2{describeTypesOut: &ec2.DescribeInstanceTypesOutput{
			InstanceTypes: []ec2types.InstanceTypeInfo{
				{
					InstanceType: "m5.large",
					VCpuInfo:     &ec2types.VCpuInfo{DefaultVCpus: aws.Int32(2)},
					MemoryInfo:   &ec2types.MemoryInfo{SizeInMiB: aws.Int64(8192)},
				},
				{
					InstanceType: "t3.micro",
					VCpuInfo:     &ec2types.VCpuInfo{DefaultVCpus: aws.Int32(2)},
					MemoryInfo:   &ec2types.MemoryInfo{SizeInMiB: aws.Int64(1024)},
				},
			},
		}},
	}

	offers, err := b.GetOffersCached(types.Requirements{CPUs: 2, MemoryBytes: 4 << 30})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "m5.large", offers[0].InstanceTypeName)
	assert.InDelta(t, 0.096, offers[0].PricePerHour, 0.0001)
}

func TestCreateInstance_WrapsCapacityError(t *testing.T) {
	b := &Backend{id: "aws-1", ec2: &fakeEC2{runErr: errors.New("InsufficientInstanceCapacity: no capacity")}}

	_, err := b.CreateInstance(compute.CreateInstanceRequest{Offer: types.InstanceOffer{InstanceTypeName: "m5.large"}})
	require.Error(t, err)
	assert.Equal(t, compute.KindCapacityExhausted, compute.KindOf(err))
}

func TestTerminateInstance_Success(t *testing.T) {
	b := &Backend{id: "aws-1", ec2: &fakeEC2{}}
	assert.NoError(t, b.TerminateInstance("i-123"))
}

func TestParseOnDemandPriceDoc(t *testing.T) {
	price, err := parseOnDemandPriceDoc(`{"terms":{"OnDemand":{"x":{"priceDimensions":{"y":{"pricePerUnit":{"USD":"1.5"}}}}}}}`)
	require.NoError(t, err)
	assert.Equal(t, 1.5, price)
}
