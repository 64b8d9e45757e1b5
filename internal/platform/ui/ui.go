package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/pterm/pterm"
)

var (
	multi    *pterm.MultiPrinter
	spinners = make(map[int]*pterm.SpinnerPrinter)
	mu       sync.Mutex
)

func StartUISystem() {
	m, _ := pterm.DefaultMultiPrinter.Start()
	multi = m
}

func StopUISystem() {
	if multi != nil {
		multi.Stop()
	}
}

func UpdateStatus(identity model.Identity, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	if multi == nil {
		return
	}

	content := render(identity, status, remainingDelay)

	if spinner, ok := spinners[identity.AccIdx]; ok {
		spinner.UpdateText(content)
	} else {
		spinner, _ := pterm.DefaultSpinner.
			WithWriter(multi.NewWriter()).
			WithRemoveWhenDone(false).
			Start(content)
		spinners[identity.AccIdx] = spinner
	}
}

func render(identity model.Identity, status string, remainingDelay time.Duration) string {
	balanceSection := ""
	if balances := formatBalances(identity.WalletBalance); balances != "" {
		balanceSection = fmt.Sprintf("Balances : %s\n\n", balances)
	}

	return fmt.Sprintf(`
=============== Account %d ================
Address       : %s
%s
Loyalty Login : %s
Clearance     : %s
Task          : %s (%d/%d)
Quests        : %d done / %d failed

Status   : %s
Delay    : %s
===========================================`,
		identity.AccIdx+1,
		identity.Address,
		balanceSection,
		defaultString(identity.LoginStatus, "WAITING"),
		defaultString(identity.ClearanceFrom, "-"),
		defaultString(identity.CurrentTask, "-"),
		identity.TasksDone,
		identity.TasksTotal,
		identity.QuestsDone,
		identity.QuestsFailed,
		status,
		FormatDelay(remainingDelay))
}

func SetSpinnerSuccess(identity model.Identity, finalMessage string) {
	mu.Lock()
	spinner, ok := spinners[identity.AccIdx]
	if ok {
		spinner.UpdateText(render(identity, finalMessage, 0))
		spinner.Success()
	}
	mu.Unlock()
}

func SetSpinnerError(identity model.Identity, finalMessage string) {
	mu.Lock()
	spinner, ok := spinners[identity.AccIdx]
	if ok {
		spinner.UpdateText(render(identity, finalMessage, 0))
		spinner.Fail()
	}
	mu.Unlock()
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func formatBalances(wallet model.WalletBalance) string {
	if len(wallet.Balances) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, tb := range wallet.Balances {
		builder.WriteString(fmt.Sprintf("\n- %s : %s %s", tb.Symbol, tb.BalanceStr, tb.Symbol))
	}

	return builder.String()
}
