package scheduler

import (
	"strings"
	"testing"

	"github.com/aristath/netqueue/internal/request"
)

func graphTask(id string, deps ...*Task) *Task {
	return &Task{id: id, deps: deps}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestOrderTasks(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() []*Task
		wantErr     bool
		errContains string
	}{
		{
			name: "linear chain",
			setup: func() []*Task {
				a := graphTask("A")
				b := graphTask("B", a)
				c := graphTask("C", b)
				return []*Task{c, b, a}
			},
		},
		{
			name: "fan in",
			setup: func() []*Task {
				a := graphTask("A")
				b := graphTask("B")
				c := graphTask("C", a, b)
				return []*Task{a, b, c}
			},
		},
		{
			name: "single task",
			setup: func() []*Task {
				return []*Task{graphTask("A")}
			},
		},
		{
			name: "dependency outside the set is ignored",
			setup: func() []*Task {
				gone := graphTask("gone")
				return []*Task{graphTask("A", gone)}
			},
		},
		{
			name: "direct cycle",
			setup: func() []*Task {
				a := graphTask("A")
				b := graphTask("B", a)
				a.deps = []*Task{b}
				return []*Task{a, b}
			},
			wantErr:     true,
			errContains: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := tt.setup()
			order, err := orderTasks(tasks)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(order) != len(tasks) {
				t.Fatalf("expected %d tasks in order, got %v", len(tasks), order)
			}
			for _, task := range tasks {
				for _, dep := range task.deps {
					di := indexOf(order, dep.id)
					if di == -1 {
						continue
					}
					if di > indexOf(order, task.id) {
						t.Errorf("%s must come before %s in %v", dep.id, task.id, order)
					}
				}
			}
		})
	}
}

func TestLinkLocked_PriorityEdges(t *testing.T) {
	s := New(nil, WithSuspended(true))
	defer s.Close()

	low := mustRequest(t, "/low", request.WithPriority(request.PriorityLow))
	def := mustRequest(t, "/default")
	def2 := mustRequest(t, "/default-2")
	high := mustRequest(t, "/high", request.WithPriority(request.PriorityHigh))

	tLow, _ := s.Submit(low)
	tDef, _ := s.Submit(def)
	tDef2, _ := s.Submit(def2)
	tHigh, _ := s.Submit(high)

	tests := []struct {
		task *Task
		want []string
	}{
		{tHigh, nil},
		{tDef, []string{tHigh.ID()}},
		{tDef2, []string{tHigh.ID()}},
		{tLow, []string{tDef.ID(), tDef2.ID(), tHigh.ID()}},
	}
	for _, tt := range tests {
		got := tt.task.DependsOn()
		if len(got) != len(tt.want) {
			t.Errorf("%s: DependsOn = %v, want %v", tt.task.Request().Name(), got, tt.want)
			continue
		}
		for _, id := range tt.want {
			if indexOf(got, id) == -1 {
				t.Errorf("%s: missing dependency %s in %v", tt.task.Request().Name(), id, got)
			}
		}
	}

	order, err := s.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if indexOf(order, tHigh.ID()) != 0 || indexOf(order, tLow.ID()) != 3 {
		t.Errorf("expected high first and low last, got %v", order)
	}
}
