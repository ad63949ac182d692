package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/session"
)

// HandleGarage processes /garage — list the caller's collection.
func HandleGarage(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	ctx := context.Background()

	player, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	rows, err := deps.Instances.ListByOwner(ctx, player.ID)
	if err != nil {
		deps.Log.Error("garage query failed", zap.Int64("player", player.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	if len(rows) == 0 {
		reply(s, i, "Your garage is empty. Keep an eye out for spawns!")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Your garage** — %d carfigures\n", len(rows))
	for n, row := range rows {
		if n == 25 {
			fmt.Fprintf(&b, "… and %d more\n", len(rows)-n)
			break
		}
		name := fmt.Sprintf("figure %d", row.FigureID)
		if fig := deps.Figures.Get(row.FigureID); fig != nil {
			name = fig.FullName
		}
		marker := ""
		if row.Favorite {
			marker = " ❤️"
		}
		fmt.Fprintf(&b, "`#%d` %s (`%+d%%/%+d%%`)%s\n",
			row.ID, name, row.HorsepowerBonus, row.WeightBonus, marker)
	}
	reply(s, i, b.String())
}

// HandleFavorite processes /favorite <id> <flag> — mark or unmark an owned
// carfigure. The flag does not survive a transfer; the new owner starts clean.
func HandleFavorite(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	opts := i.ApplicationCommandData().Options
	id := opts[0].IntValue()
	flag := true
	if len(opts) > 1 {
		flag = opts[1].BoolValue()
	}

	ctx := context.Background()
	player, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}

	err = deps.Instances.SetFavorite(ctx, id, player.ID, flag)
	switch {
	case errors.Is(err, session.ErrNotOwner):
		reply(s, i, "That carfigure is not yours.")
	case err != nil:
		deps.Log.Error("favorite update failed", zap.Int64("instance", id), zap.Error(err))
		reply(s, i, "Something went wrong.")
	case flag:
		reply(s, i, fmt.Sprintf("`#%d` marked as a favorite.", id))
	default:
		reply(s, i, fmt.Sprintf("`#%d` is no longer a favorite.", id))
	}
}

// HandleHistory processes /history — the caller's recent settled exchanges.
func HandleHistory(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	ctx := context.Background()

	player, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	exchanges, err := deps.Exchanges.History(ctx, player.ID, 10)
	if err != nil {
		deps.Log.Error("history query failed", zap.Int64("player", player.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	if len(exchanges) == 0 {
		reply(s, i, "No settled trades or battles yet.")
		return
	}

	var b strings.Builder
	b.WriteString("**Recent exchanges**\n")
	for _, ex := range exchanges {
		verdict := ""
		if ex.Winner != nil {
			if *ex.Winner == player.ID {
				verdict = " — won"
			} else {
				verdict = " — lost"
			}
		}
		fmt.Fprintf(&b, "%s · %d figures · %s%s\n",
			ex.Kind, ex.Items, ex.ConcludedAt.Format("2006-01-02"), verdict)
	}
	reply(s, i, b.String())
}
