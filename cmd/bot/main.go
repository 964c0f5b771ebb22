// cmd/bot/main.go
package main

import (
	"cashledger/internal/config"
	"cashledger/internal/engine"
	"cashledger/internal/storage/postgres"
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	cfg := config.MustLoad()
	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DBConn == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := pgxpool.New(context.Background(), cfg.DBConn)
	if err != nil {
		log.Fatal("Failed to connect to DB:", err)
	}
	defer db.Close()

	eng := engine.New(postgres.NewStorage(db))

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Panic(err)
	}
	log.Printf("Bot started: @%s", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		chatID := update.Message.Chat.ID
		text := strings.TrimSpace(update.Message.Text)

		var msgText string
		var errHandle error

		switch {
		case text == "/start" || text == "/help":
			msgText = "💳 *Cashback ledger*\n\n" +
				"Commands:\n" +
				"`/cycle <account> [YYYY-MM]` — cycle totals for a period\n" +
				"`/cycles <account>` — all recorded cycles\n" +
				"`/simulate <account> <amount> [category]` — preview a spend's rate"

		case strings.HasPrefix(text, "/cycle "):
			args := strings.Fields(text[len("/cycle "):])
			msgText, errHandle = handleCycle(eng, args)

		case strings.HasPrefix(text, "/cycles "):
			accountID := strings.TrimSpace(text[len("/cycles "):])
			msgText, errHandle = handleCycles(eng, accountID)

		case strings.HasPrefix(text, "/simulate "):
			args := strings.Fields(text[len("/simulate "):])
			msgText, errHandle = handleSimulate(eng, args)

		default:
			msgText = "Unknown command. Try /help"
		}

		if errHandle != nil {
			msgText = "❌ Error: " + errHandle.Error()
		}

		msg := tgbotapi.NewMessage(chatID, msgText)
		msg.ParseMode = "Markdown"
		_, _ = bot.Send(msg)
	}
}

func handleCycle(eng *engine.Engine, args []string) (string, error) {
	if len(args) < 1 {
		return "❌ Usage: /cycle <account> [YYYY-MM]", nil
	}
	accountID := args[0]
	ref := time.Now().Format("2006-01")
	if len(args) > 1 {
		ref = args[1]
	}

	stats, err := eng.GetCycleStats(context.Background(), accountID, ref)
	if err != nil {
		return "", err
	}
	return formatCycle(*stats), nil
}

func handleCycles(eng *engine.Engine, accountID string) (string, error) {
	if accountID == "" {
		return "❌ Usage: /cycles <account>", nil
	}
	cycles, err := eng.ListCycles(context.Background(), accountID)
	if err != nil {
		return "", err
	}
	if len(cycles) == 0 {
		return "📭 No cycles recorded for this account", nil
	}
	var lines []string
	lines = append(lines, "📅 *Cycles*")
	for _, c := range cycles {
		lines = append(lines, fmt.Sprintf("- `%s`: spent %.0f, rewards %.0f real / %.0f virtual",
			c.CycleTag, c.SpentAmount, c.RealAwarded, c.VirtualProfit))
	}
	return strings.Join(lines, "\n"), nil
}

func handleSimulate(eng *engine.Engine, args []string) (string, error) {
	if len(args) < 2 {
		return "❌ Usage: /simulate <account> <amount> [category]", nil
	}
	accountID := args[0]
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil || amount <= 0 {
		return fmt.Sprintf("❌ Invalid amount: %q", args[1]), nil
	}
	category := ""
	if len(args) > 2 {
		category = strings.Join(args[2:], " ")
	}

	res, err := eng.Simulate(context.Background(), accountID, amount, category)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("💰 Rate *%.2f%%* → reward %.0f\n_%s_",
		res.Rate*100, amount*res.Rate, res.Metadata.Reason)
	if res.MaxReward != nil {
		reply += fmt.Sprintf("\nRule cap: %.0f", *res.MaxReward)
	}
	return reply, nil
}

func formatCycle(c engine.CycleStats) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("📅 *Cycle %s*", c.CycleTag))
	lines = append(lines, fmt.Sprintf("Spent: %.0f", c.SpentAmount))
	lines = append(lines, fmt.Sprintf("Real rewards: %.0f", c.RealAwarded))
	lines = append(lines, fmt.Sprintf("Virtual profit: %.0f", c.VirtualProfit))
	if c.OverflowLoss > 0 {
		lines = append(lines, fmt.Sprintf("Overflow loss: %.0f", c.OverflowLoss))
	}
	if c.RemainingBudget != nil {
		lines = append(lines, fmt.Sprintf("Budget left: %.0f", *c.RemainingBudget))
	}
	if c.IsExhausted {
		lines = append(lines, "⚠️ Budget exhausted")
	}
	if c.MinSpendTarget != nil {
		if c.MetMinSpend {
			lines = append(lines, "✅ Min spend met")
		} else {
			lines = append(lines, fmt.Sprintf("Min spend left: %.0f", *c.MinSpendRemaining))
		}
	}
	return strings.Join(lines, "\n")
}
