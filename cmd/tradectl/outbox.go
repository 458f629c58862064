package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/outbox"
)

type deadLetterReader interface {
	List(ctx context.Context, aggregate enums.OutboxAggregateType, limit int) ([]models.OutboxDLQ, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the transactional outbox",
	}
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect events the publisher gave up on",
	}

	var (
		aggregate string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest dead-lettered events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kind enums.OutboxAggregateType
			if aggregate != "" {
				parsed, err := enums.ParseOutboxAggregateType(aggregate)
				if err != nil {
					return fmt.Errorf("invalid --aggregate: %w", err)
				}
				kind = parsed
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			return listDeadLetters(cmd.Context(), outbox.NewDLQRepository(e.db.DB()), kind, limit, cmd.OutOrStdout())
		},
	}
	list.Flags().StringVar(&aggregate, "aggregate", "", "only show one aggregate type (order, payment, wallet, withdrawal, notification)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows to print")

	show := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Print one dead-lettered event with its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id: %w", err)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			return showDeadLetter(cmd.Context(), outbox.NewDLQRepository(e.db.DB()), id, cmd.OutOrStdout())
		},
	}

	dlq.AddCommand(list, show)
	cmd.AddCommand(dlq)
	return cmd
}

// listDeadLetters writes one JSON line per entry, newest first.
func listDeadLetters(ctx context.Context, reader deadLetterReader, aggregate enums.OutboxAggregateType, limit int, out io.Writer) error {
	rows, err := reader.List(ctx, aggregate, limit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	enc := json.NewEncoder(out)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%d dead-lettered event(s)\n", len(rows))
	return nil
}

func showDeadLetter(ctx context.Context, reader deadLetterReader, eventID uuid.UUID, out io.Writer) error {
	row, err := reader.FindByEventID(ctx, eventID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no dead-lettered event %s", eventID)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(row)
}
