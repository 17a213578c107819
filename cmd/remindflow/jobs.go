package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func generateCmd(a *app) *cobra.Command {
	var schedule bool

	cmd := &cobra.Command{
		Use:   "generate [entity-id]",
		Short: "Generate filing deadlines for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx)
			if err != nil {
				return err
			}

			res, err := svc.deadlines.GenerateForEntity(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"created": res.Created}
			if schedule {
				items, err := svc.scheduler.ScheduleEntity(ctx, args[0])
				if err != nil {
					return err
				}
				out["reminders"] = items
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&schedule, "schedule", true, "schedule reminders for the entity's unfiled deadlines afterwards")
	return cmd
}

func scheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [deadline-id...]",
		Short: "Schedule reminders for deadlines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"results": svc.scheduler.ScheduleMany(cmd.Context(), args)})
		},
	}
}

func drainCmd(a *app) *cobra.Command {
	var (
		batchSize int
		worker    string
	)

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Claim due reminders and queue their messages",
		Long: `Claim due reminders and queue one outbound message per reminder.

Meant to run from an external scheduler, e.g. every 15 minutes. Overlapping runs
never process the same reminder twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = a.cfg.DrainBatchSize
			}
			sum, err := svc.worker.Drain(cmd.Context(), batchSize, a.workerID(worker))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "reminders to claim (default DRAIN_BATCH_SIZE)")
	cmd.Flags().StringVar(&worker, "worker-id", "", "claim owner (default WORKER_ID or host-pid)")
	return cmd
}

func dispatchCmd(a *app) *cobra.Command {
	var (
		batchSize int
		worker    string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send queued outbound messages through the configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = a.cfg.DrainBatchSize
			}
			sum, err := svc.dispatcher.Dispatch(cmd.Context(), batchSize, a.workerID(worker))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "messages to claim (default DRAIN_BATCH_SIZE)")
	cmd.Flags().StringVar(&worker, "worker-id", "", "claim owner (default WORKER_ID or host-pid)")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release claims held longer than STALE_CLAIM_AFTER",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx)
			if err != nil {
				return err
			}
			reminders, err := svc.worker.ReclaimStale(ctx, a.cfg.StaleClaimAfter)
			if err != nil {
				return fmt.Errorf("sweep reminders: %w", err)
			}
			messages, err := svc.dispatcher.ReclaimStale(ctx, a.cfg.StaleClaimAfter)
			if err != nil {
				return fmt.Errorf("sweep messages: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{
				"reclaimedReminders": reminders,
				"reclaimedMessages":  messages,
			})
		},
	}
}

func requeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [reminder-id]",
		Short: "Reset a failed reminder to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			rem, err := svc.worker.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rem)
		},
	}
}
