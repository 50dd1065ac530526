package schedule

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
)

// FakeScheduler is an in-memory SchedulerAPI for local runs and tests.
type FakeScheduler struct {
	mu        sync.Mutex
	schedules map[string]*scheduler.CreateScheduleInput
	pageSize  int
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{schedules: make(map[string]*scheduler.CreateScheduleInput), pageSize: 100}
}

func (f *FakeScheduler) CreateSchedule(_ context.Context, in *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	if _, exists := f.schedules[name]; exists {
		return nil, &schtypes.ConflictException{Message: aws.String("schedule already exists: " + name)}
	}
	f.schedules[name] = in
	return &scheduler.CreateScheduleOutput{ScheduleArn: aws.String("arn:aws:scheduler:::schedule/" + name)}, nil
}

func (f *FakeScheduler) DeleteSchedule(_ context.Context, in *scheduler.DeleteScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	if _, exists := f.schedules[name]; !exists {
		return nil, &schtypes.ResourceNotFoundException{Message: aws.String("no such schedule: " + name)}
	}
	delete(f.schedules, name)
	return &scheduler.DeleteScheduleOutput{}, nil
}

func (f *FakeScheduler) ListSchedules(_ context.Context, in *scheduler.ListSchedulesInput, _ ...func(*scheduler.Options)) (*scheduler.ListSchedulesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := f.sortedNames()

	start := 0
	if token := aws.ToString(in.NextToken); token != "" {
		for i, name := range names {
			if name > token {
				start = i
				break
			}
			start = len(names)
		}
	}
	end := start + f.pageSize
	if end > len(names) {
		end = len(names)
	}

	out := &scheduler.ListSchedulesOutput{}
	for _, name := range names[start:end] {
		out.Schedules = append(out.Schedules, schtypes.ScheduleSummary{Name: aws.String(name)})
	}
	if end < len(names) {
		out.NextToken = aws.String(names[end-1])
	}
	return out, nil
}

func (f *FakeScheduler) GetSchedule(_ context.Context, in *scheduler.GetScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	stored, exists := f.schedules[name]
	if !exists {
		return nil, &schtypes.ResourceNotFoundException{Message: aws.String("no such schedule: " + name)}
	}
	return &scheduler.GetScheduleOutput{
		Name:               stored.Name,
		GroupName:          stored.GroupName,
		ScheduleExpression: stored.ScheduleExpression,
		Target:             stored.Target,
	}, nil
}

// Stored returns the registered input for a schedule name, for test
// assertions.
func (f *FakeScheduler) Stored(name string) (*scheduler.CreateScheduleInput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.schedules[name]
	return in, ok
}

func (f *FakeScheduler) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schedules)
}

func (f *FakeScheduler) sortedNames() []string {
	names := make([]string, 0, len(f.schedules))
	for name := range f.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
