package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

type driftAuditor interface {
	ListAccounts(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	VerifyNoDrift(ctx context.Context, accountID uuid.UUID) (*ledger.DriftReport, error)
}

type balanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*ledger.Balance, error)
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect wallet ledgers",
	}

	var account string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Replay ledger entries and compare them with cached balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var accounts []uuid.UUID
			if account != "" {
				id, err := uuid.Parse(account)
				if err != nil {
					return fmt.Errorf("invalid --account: %w", err)
				}
				accounts = []uuid.UUID{id}
			}
			drifting, err := verifyLedger(cmd.Context(), e.ledger, accounts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if drifting > 0 {
				return fmt.Errorf("%d wallet(s) drifting", drifting)
			}
			return nil
		},
	}
	verify.Flags().StringVar(&account, "account", "", "verify a single wallet instead of all of them")

	balance := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Print a wallet's cached balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			return printBalance(cmd.Context(), e.ledger, id, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(verify, balance)
	return cmd
}

// verifyLedger writes one JSON report per drifting wallet and returns how
// many drifted. An empty accounts list walks every wallet.
func verifyLedger(ctx context.Context, auditor driftAuditor, accounts []uuid.UUID, out io.Writer) (int, error) {
	enc := json.NewEncoder(out)
	audited, drifting := 0, 0

	check := func(ids []uuid.UUID) error {
		for _, id := range ids {
			report, err := auditor.VerifyNoDrift(ctx, id)
			if err != nil {
				return fmt.Errorf("verify %s: %w", id, err)
			}
			audited++
			if report.Consistent {
				continue
			}
			drifting++
			if err := enc.Encode(report); err != nil {
				return err
			}
		}
		return nil
	}

	if len(accounts) > 0 {
		if err := check(accounts); err != nil {
			return drifting, err
		}
	} else {
		var after uuid.UUID
		for {
			page, err := auditor.ListAccounts(ctx, after, pagination.MaxLimit)
			if err != nil {
				return drifting, fmt.Errorf("list wallets: %w", err)
			}
			if err := check(page); err != nil {
				return drifting, err
			}
			if len(page) < pagination.MaxLimit {
				break
			}
			after = page[len(page)-1]
		}
	}

	fmt.Fprintf(out, "audited %d wallet(s), %d drifting\n", audited, drifting)
	return drifting, nil
}

func printBalance(ctx context.Context, reader balanceReader, accountID uuid.UUID, out io.Writer) error {
	balance, err := reader.GetBalance(ctx, accountID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(balance)
}
