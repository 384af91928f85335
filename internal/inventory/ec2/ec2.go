// Package ec2 lists and actuates AWS EC2 instances.
package ec2

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

// API is the subset of the EC2 client used here.
type API interface {
	DescribeInstances(ctx context.Context, in *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, in *awsec2.StartInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *awsec2.StopInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
}

type Provider struct {
	api  API
	keys schedule.TagKeys
	log  logx.Logger
}

var _ inventory.Provider = (*Provider)(nil)

// New loads the default AWS configuration (env, shared config, IMDS) and
// returns a provider for region. An empty region uses the SDK default.
func New(ctx context.Context, region string, keys schedule.TagKeys, log logx.Logger) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ec2: load aws config: %w", err)
	}
	return NewWithClient(awsec2.NewFromConfig(cfg), keys, log), nil
}

func NewWithClient(api API, keys schedule.TagKeys, log logx.Logger) *Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	if keys.Start == "" {
		keys.Start = schedule.DefaultStartTag
	}
	if keys.Stop == "" {
		keys.Stop = schedule.DefaultStopTag
	}
	return &Provider{api: api, keys: keys, log: log.With(logx.String("inventory", "ec2"))}
}

func (p *Provider) ListManagedInstances(ctx context.Context) ([]inventory.Instance, error) {
	in := &awsec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + p.keys.Start), Values: []string{"*"}},
			{Name: aws.String("tag:" + p.keys.Stop), Values: []string{"*"}},
		},
	}
	var out []inventory.Instance
	pages := awsec2.NewDescribeInstancesPaginator(p.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ec2: describe instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				it := convert(inst)
				// The tag filter is applied server-side; re-check for fakes and proxies.
				if !inventory.Managed(it.Tags, p.keys) {
					continue
				}
				out = append(out, it)
			}
		}
	}
	p.log.Debug("listed instances", logx.Int("count", len(out)))
	return out, nil
}

func convert(inst types.Instance) inventory.Instance {
	tags := make(map[string]string, len(inst.Tags))
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	state := reconcile.StateUnknown
	if inst.State != nil {
		state = reconcile.ParsePowerState(string(inst.State.Name))
	}
	return inventory.Instance{ID: aws.ToString(inst.InstanceId), Tags: tags, State: state}
}

func (p *Provider) RequestStart(ctx context.Context, id string) error {
	if _, err := p.api.StartInstances(ctx, &awsec2.StartInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("ec2: start %s: %w", id, err)
	}
	return nil
}

func (p *Provider) RequestStop(ctx context.Context, id string) error {
	if _, err := p.api.StopInstances(ctx, &awsec2.StopInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("ec2: stop %s: %w", id, err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }
