// Command slctl is an operator client for the ledger HTTP API. It proposes
// and approves disbursements on behalf of a ministry and renders voting
// progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"

	"satya.ledger/sl/internal/ledger"
)

const usage = `usage: slctl [-server URL] <command> [flags]

commands:
  participants                 list the registered ministries
  create  -beneficiary -scheme -amount -receipt [-as]
  approve -tx ID -as MINISTRY  approve as a ministry (name, role or address)
  view    -tx ID               show a transaction and its votes
  list    [-offset] [-limit]   list transactions in creation order
`

func main() {
	server := flag.String("server", envOr("SL_SERVER", "http://localhost:8080"), "ledger base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := newClient(*server)
	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "participants":
		err = runParticipants(ctx, c)
	case "create":
		err = runCreate(ctx, c, args)
	case "approve":
		err = runApprove(ctx, c, args)
	case "view":
		err = runView(ctx, c, args)
	case "list":
		err = runList(ctx, c, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func runParticipants(ctx context.Context, c *client) error {
	resp, err := c.participants(ctx)
	if err != nil {
		return err
	}
	printParticipants(resp)
	return nil
}

func runCreate(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	beneficiary := fs.String("beneficiary", "", "beneficiary id")
	scheme := fs.String("scheme", "", "scheme name")
	amount := fs.Uint64("amount", 0, "amount in the smallest currency unit")
	receipt := fs.String("receipt", "", "receipt hash")
	as := fs.String("as", "", "proposing ministry (defaults to the proposer role)")
	fs.Parse(args)

	parts, err := c.participants(ctx)
	if err != nil {
		return err
	}
	who := *as
	if who == "" {
		who = string(parts.ProposerRole)
	}
	proposer, err := resolveParticipant(parts.Participants, who)
	if err != nil {
		return err
	}

	tx, err := c.create(ctx, ledger.CreateRequest{
		BeneficiaryID: *beneficiary,
		SchemeName:    *scheme,
		Amount:        *amount,
		ReceiptHash:   *receipt,
		Caller:        proposer.Address,
	})
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s proposed transaction %s", proposer.Name, pterm.LightCyan(tx.ID))
	pterm.Info.Printfln("Approvals: 0 / %d  %s", parts.Quorum, progressBar(0, parts.Quorum, progressWidth))
	return nil
}

func runApprove(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	id := fs.String("tx", "", "transaction id")
	as := fs.String("as", "", "approving ministry")
	fs.Parse(args)
	if *id == "" {
		return errors.New("approve requires -tx")
	}

	parts, err := c.participants(ctx)
	if err != nil {
		return err
	}
	voter, err := resolveParticipant(parts.Participants, *as)
	if err != nil {
		return err
	}

	voted, err := c.hasVoted(ctx, *id, voter.Address)
	if err != nil {
		return err
	}
	if voted {
		pterm.Warning.Printfln("%s has already approved %s", voter.Name, *id)
		return nil
	}

	tx, err := c.approve(ctx, *id, voter.Address)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s approved %s", voter.Name, tx.ID)
	pterm.Info.Printfln("Approvals: %d / %d  %s",
		tx.ApprovalCount, parts.Quorum, progressBar(tx.ApprovalCount, parts.Quorum, progressWidth))
	if tx.Finalized {
		pterm.Success.Println("Transaction finalized")
	} else {
		remaining := parts.Quorum - tx.ApprovalCount
		pterm.Info.Println(remainingText(remaining))
	}
	return nil
}

func runView(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	id := fs.String("tx", "", "transaction id")
	fs.Parse(args)
	if *id == "" {
		return errors.New("view requires -tx")
	}

	tx, err := c.transaction(ctx, *id)
	if err != nil {
		return err
	}
	rep, err := c.votingStatus(ctx, *id)
	if err != nil {
		return err
	}
	printTransaction(tx, rep)
	return nil
}

func runList(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	offset := fs.Int("offset", 0, "first index to show")
	limit := fs.Int("limit", ledger.DefaultListLimit, "maximum rows")
	fs.Parse(args)

	parts, err := c.participants(ctx)
	if err != nil {
		return err
	}
	resp, err := c.list(ctx, *offset, *limit)
	if err != nil {
		return err
	}
	printList(resp, parts.Quorum)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
