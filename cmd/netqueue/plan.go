package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/netqueue/internal/manifest"
	"github.com/aristath/netqueue/internal/scheduler"
)

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Print the order in which a manifest's requests would start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.plan(args[0])
		},
	}
}

func (a *app) plan(path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	reqs, err := m.Build(a.cfg.Retry, a.cfg.Scheduler.BackoffUnit.Duration)
	if err != nil {
		return err
	}

	// Nothing is sent: the scheduler stays suspended and has no transport.
	sched := scheduler.New(nil, scheduler.WithSuspended(true), scheduler.WithLogger(a.logger))
	defer sched.Close()
	for _, req := range reqs {
		if _, err := sched.Submit(req); err != nil {
			return err
		}
	}

	order, err := sched.Order()
	if err != nil {
		return err
	}
	infos := make(map[string]scheduler.TaskInfo, len(order))
	for _, info := range sched.Tasks() {
		infos[info.ID] = info
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPRIORITY\tREQUEST\tWAITS ON")
	for i, id := range order {
		info := infos[id]
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, info.Priority, info.Name, len(info.DependsOn))
	}
	if merged := len(reqs) - len(order); merged > 0 {
		fmt.Fprintf(w, "\n%d duplicate request(s) merged\n", merged)
	}
	return w.Flush()
}
