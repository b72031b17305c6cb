package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/types"
)

const progressWidth = 20

// resolveParticipant finds a participant by address, role or display name.
func resolveParticipant(ps []types.Participant, who string) (types.Participant, error) {
	who = strings.TrimSpace(who)
	if who == "" {
		return types.Participant{}, fmt.Errorf("no participant given")
	}
	for _, p := range ps {
		if strings.EqualFold(p.Address, who) || strings.EqualFold(p.Name, who) {
			return p, nil
		}
	}
	if role, err := types.ParseRole(who); err == nil {
		for _, p := range ps {
			if p.Role == role {
				return p, nil
			}
		}
	}
	return types.Participant{}, fmt.Errorf("unknown participant %q", who)
}

// progressBar renders count of threshold approvals as a fixed-width bar.
func progressBar(count, threshold, width int) string {
	if threshold <= 0 || width <= 0 {
		return ""
	}
	filled := count * width / threshold
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func remainingText(remaining int) string {
	switch remaining {
	case 0:
		return "quorum reached"
	case 1:
		return "need 1 more approval"
	default:
		return fmt.Sprintf("need %d more approvals", remaining)
	}
}

func statusText(s types.Status) string {
	if s == types.StatusFinalized {
		return pterm.LightGreen(string(s))
	}
	return pterm.LightYellow(string(s))
}

func printTransaction(tx types.Transaction, rep ledger.VoteReport) {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	body := pterm.Sprintfln("Beneficiary: %s", tx.BeneficiaryID) +
		pterm.Sprintfln("Scheme:      %s", tx.SchemeName) +
		pterm.Sprintfln("Amount:      %d", tx.Amount) +
		pterm.Sprintfln("Receipt:     %s", tx.ReceiptHash) +
		pterm.Sprintfln("Created:     %s", tx.CreatedAt.Format(time.RFC3339)) +
		pterm.Sprintfln("Status:      %s", statusText(tx.Status)) +
		pterm.Sprintfln("Approvals:   %d / %d  %s  %s",
			rep.ApprovalCount, rep.Threshold, progressBar(rep.ApprovalCount, rep.Threshold, progressWidth), remainingText(rep.Remaining))
	pterm.Println(pbox.WithTitle(pterm.LightCyan(tx.ID)).WithTitleTopLeft().Sprint(body))

	data := pterm.TableData{{"Ministry", "Role", "Address", "Voted", "At"}}
	for _, p := range rep.Participants {
		voted, at := pterm.Red("no"), ""
		if p.Voted {
			voted = pterm.Green("yes")
			if p.VotedAt != nil {
				at = p.VotedAt.Format(time.RFC3339)
			}
		}
		data = append(data, []string{p.Name, string(p.Role), p.Address, voted, at})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printList(resp listResponse, threshold int) {
	if len(resp.Transactions) == 0 {
		pterm.Info.Printfln("No transactions (total %d)", resp.Count)
		return
	}
	data := pterm.TableData{{"#", "ID", "Beneficiary", "Scheme", "Amount", "Approvals", "Status"}}
	for _, tx := range resp.Transactions {
		data = append(data, []string{
			fmt.Sprint(tx.Seq),
			tx.ID,
			tx.BeneficiaryID,
			tx.SchemeName,
			fmt.Sprint(tx.Amount),
			fmt.Sprintf("%d / %d", tx.ApprovalCount, threshold),
			statusText(tx.Status),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Info.Printfln("Showing %d of %d from offset %d", len(resp.Transactions), resp.Count, resp.Offset)
}

func printParticipants(resp participantsResponse) {
	data := pterm.TableData{{"Ministry", "Role", "Address", "Proposer"}}
	for _, p := range resp.Participants {
		proposer := ""
		if p.Role == resp.ProposerRole {
			proposer = pterm.LightGreen("yes")
		}
		data = append(data, []string{p.Name, string(p.Role), p.Address, proposer})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Info.Printfln("Quorum: %d of %d", resp.Quorum, len(resp.Participants))
}
