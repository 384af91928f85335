package ec2

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

type fakeAPI struct {
	pages   []*awsec2.DescribeInstancesOutput
	calls   int
	filters []types.Filter
	started []string
	stopped []string
	failOn  string
}

func (f *fakeAPI) DescribeInstances(ctx context.Context, in *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	f.filters = in.Filters
	out := f.pages[f.calls]
	f.calls++
	return out, nil
}

func (f *fakeAPI) StartInstances(ctx context.Context, in *awsec2.StartInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error) {
	if in.InstanceIds[0] == f.failOn {
		return nil, errors.New("boom")
	}
	f.started = append(f.started, in.InstanceIds...)
	return &awsec2.StartInstancesOutput{}, nil
}

func (f *fakeAPI) StopInstances(ctx context.Context, in *awsec2.StopInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error) {
	f.stopped = append(f.stopped, in.InstanceIds...)
	return &awsec2.StopInstancesOutput{}, nil
}

func instance(id string, state types.InstanceStateName, tags map[string]string) types.Instance {
	var tt []types.Tag
	for k, v := range tags {
		tt = append(tt, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return types.Instance{
		InstanceId: aws.String(id),
		State:      &types.InstanceState{Name: state},
		Tags:       tt,
	}
}

func TestListManagedInstancesPaginates(t *testing.T) {
	t.Parallel()
	managed := map[string]string{"start-stop:start": "0 8 * * *", "start-stop:stop": "0 20 * * *", "Name": "web"}
	api := &fakeAPI{pages: []*awsec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-1", types.InstanceStateNameRunning, managed),
				instance("i-x", types.InstanceStateNameRunning, map[string]string{"start-stop:start": "0 8 * * *"}),
			}}},
			NextToken: aws.String("page-2"),
		},
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-2", types.InstanceStateNameStopped, managed),
			}}},
		},
	}}
	p := NewWithClient(api, schedule.TagKeys{}, logx.Nop())

	got, err := p.ListManagedInstances(context.Background())
	if err != nil {
		t.Fatalf("ListManagedInstances error: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("DescribeInstances calls = %d, want 2", api.calls)
	}
	if len(got) != 2 || got[0].ID != "i-1" || got[1].ID != "i-2" {
		t.Fatalf("got %+v", got)
	}
	if got[0].State != reconcile.StateRunning || got[1].State != reconcile.StateStopped {
		t.Fatalf("states = %s/%s", got[0].State, got[1].State)
	}
	if got[0].Tags["Name"] != "web" {
		t.Fatalf("tags = %v", got[0].Tags)
	}
	if len(api.filters) != 2 || aws.ToString(api.filters[0].Name) != "tag:start-stop:start" || aws.ToString(api.filters[1].Name) != "tag:start-stop:stop" {
		t.Fatalf("filters = %+v", api.filters)
	}
}

func TestRequestStartStop(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{failOn: "i-bad"}
	p := NewWithClient(api, schedule.TagKeys{}, logx.Nop())
	ctx := context.Background()

	if err := p.RequestStart(ctx, "i-1"); err != nil {
		t.Fatalf("RequestStart error: %v", err)
	}
	if err := p.RequestStop(ctx, "i-2"); err != nil {
		t.Fatalf("RequestStop error: %v", err)
	}
	if err := p.RequestStart(ctx, "i-bad"); err == nil {
		t.Fatal("expected start error")
	}
	if len(api.started) != 1 || api.started[0] != "i-1" || len(api.stopped) != 1 || api.stopped[0] != "i-2" {
		t.Fatalf("started=%v stopped=%v", api.started, api.stopped)
	}
}
