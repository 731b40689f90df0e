package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/generation"
	"github.com/at-ishikawa/studycore/internal/progress"
)

func newJobCommand() *cobra.Command {
	jobCommand := &cobra.Command{
		Use:   "job",
		Short: "Generate decks and exams with the configured LLM",
	}

	jobCommand.AddCommand(
		newJobCreateCommand(),
		newJobAdvanceCommand(),
		newJobRunCommand(),
		newJobCancelCommand(),
		newJobProgressCommand(),
		newJobWatchCommand(),
	)
	return jobCommand
}

func newJobCreateCommand() *cobra.Command {
	var (
		kind         string
		topics       topicsValue
		mixedFormats []string
		run          bool
		req          generation.CreateRequest
	)
	command := &cobra.Command{
		Use:   "create",
		Short: "Create a generation job",
		Example: `  studycore job create --kind exam --total 20 --topic algebra=2:linear,quadratic --topic geometry
  studycore job create --kind deck --total 10 --weak-areas`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Kind = collection.Kind(kind)
			req.Topics = topics
			if len(mixedFormats) > 0 {
				if len(mixedFormats) != 2 {
					return fmt.Errorf("--mixed-formats takes exactly two formats")
				}
				req.MixedFormats = [2]string{mixedFormats[0], mixedFormats[1]}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			_, services, err := openServices(ctx, true)
			if err != nil {
				return err
			}
			defer closeServices(services)

			job, err := services.Queue.Create(ctx, ownerID, req)
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("created job %s for %d %s item(s) in collection %s",
				job.ID, job.TargetCount, job.CollectionKind, job.CollectionID))
			if !run {
				return nil
			}
			return runJob(ctx, cmd, services.Queue, job.ID)
		},
	}
	command.Flags().StringVar(&kind, "kind", string(collection.KindExam), "deck or exam")
	command.Flags().StringVar(&req.Title, "title", "", "collection title")
	command.Flags().StringVar(&req.Subject, "subject", "", "subject")
	command.Flags().IntVar(&req.Total, "total", 10, "number of items to generate")
	command.Flags().Var(&topics, "topic", "topic as name[=weight][:sub1,sub2], repeatable")
	command.Flags().BoolVar(&req.WeakAreas, "weak-areas", false, "weight topics by low review accuracy")
	command.Flags().StringSliceVar(&req.SourceStyles, "style", nil, "source styles to rotate through")
	command.Flags().StringSliceVar(&req.Difficulties, "difficulty", nil, "difficulties to rotate through")
	command.Flags().StringVar(&req.Format, "format", "", "multiple_choice, short_answer or mixed")
	command.Flags().StringSliceVar(&mixedFormats, "mixed-formats", nil, "the two formats alternated by mixed")
	command.Flags().BoolVar(&run, "run", false, "advance the job until it finishes")
	return command
}

// topicsValue collects repeated --topic flags.
type topicsValue []allocation.TopicWeight

var _ pflag.Value = (*topicsValue)(nil)

func (v *topicsValue) String() string {
	names := make([]string, 0, len(*v))
	for _, t := range *v {
		names = append(names, t.Name)
	}
	return "[" + strings.Join(names, ",") + "]"
}

func (v *topicsValue) Set(value string) error {
	parsed, err := parseTopics([]string{value})
	if err != nil {
		return err
	}
	*v = append(*v, parsed...)
	return nil
}

func (v *topicsValue) Type() string { return "topic" }

// parseTopics reads name[=weight][:sub1,sub2] values. Weight defaults to 1.
func parseTopics(values []string) ([]allocation.TopicWeight, error) {
	topics := make([]allocation.TopicWeight, 0, len(values))
	for _, value := range values {
		head, subs, hasSubs := strings.Cut(value, ":")
		name, weightText, hasWeight := strings.Cut(head, "=")

		topic := allocation.TopicWeight{Name: strings.TrimSpace(name), Weight: 1}
		if hasWeight {
			weight, err := strconv.ParseFloat(strings.TrimSpace(weightText), 64)
			if err != nil {
				return nil, fmt.Errorf("topic %q: invalid weight %q", value, weightText)
			}
			topic.Weight = weight
		}
		if hasSubs {
			for _, sub := range strings.Split(subs, ",") {
				if sub = strings.TrimSpace(sub); sub != "" {
					topic.Subtopics = append(topic.Subtopics, allocation.SubtopicWeight{Name: sub, Weight: 1})
				}
			}
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func newJobAdvanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <job-id>",
		Short: "Generate the next item of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeServices(services)

			p, err := services.Queue.Advance(cmd.Context(), ownerID, args[0])
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func newJobRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Advance a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			_, services, err := openServices(ctx, true)
			if err != nil {
				return err
			}
			defer closeServices(services)

			return runJob(ctx, cmd, services.Queue, args[0])
		},
	}
}

// jobAdvancer is the part of generation.Queue runJob drives.
type jobAdvancer interface {
	Advance(ctx context.Context, ownerID, jobID string) (generation.Progress, error)
}

const inFlightBackoff = time.Second

// runJob advances until the job is done. While another caller holds the
// next task it waits and tries again.
func runJob(ctx context.Context, cmd *cobra.Command, queue jobAdvancer, jobID string) error {
	for {
		p, err := queue.Advance(ctx, ownerID, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				_, _ = warnColor.Fprintln(cmd.OutOrStdout(), "interrupted, run the job again to resume")
				return nil
			}
			return err
		}
		printProgress(cmd.OutOrStdout(), p)
		if p.Done {
			return nil
		}
		if p.InFlight {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(inFlightBackoff):
			}
		}
	}
}

func newJobCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job and keep what was generated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeServices(services)

			result, err := services.Queue.Cancel(cmd.Context(), ownerID, args[0])
			if err != nil {
				return err
			}
			printCancel(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func newJobProgressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Show the progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeServices(services)

			p, err := services.Queue.Progress(cmd.Context(), ownerID, args[0])
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func newJobWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream progress events published to Redis",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis is not enabled in the configuration")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			subscriber, err := progress.NewRedisPublisher(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = subscriber.Close() }()

			err = subscriber.Subscribe(ctx, func(e progress.Event) bool {
				if e.OwnerID != ownerID {
					return true
				}
				if len(args) == 1 && e.JobID != args[0] {
					return true
				}
				printEvent(cmd.OutOrStdout(), e)
				return len(args) == 0 || !e.Final()
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
