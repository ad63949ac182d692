package handler

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/persist"
)

// catchBonusRange is the default half-range, in percent, of the stat bonus
// rolled onto a fresh catch. Scripts can widen it per figure.
const catchBonusRange = 20

// HandleCatch processes /catch <name> — claim the guild's live spawn.
func HandleCatch(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	completeCatch(s, i, deps, i.ApplicationCommandData().Options[0].StringValue())
}

// HandleCatchButton answers the spawn message's button with a name-entry modal.
func HandleCatchButton(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: "catch:modal",
			Title:    "Catch this carfigure!",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "guess",
						Label:       "Name",
						Style:       discordgo.TextInputShort,
						Placeholder: "What is it called?",
						Required:    true,
						MaxLength:   64,
					},
				}},
			},
		},
	})
}

// HandleCatchModal resolves the modal's guess like a /catch command.
func HandleCatchModal(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	data := i.ModalSubmitData()
	guess := ""
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if in, ok := c.(*discordgo.TextInput); ok && in.CustomID == "guess" {
				guess = in.Value
			}
		}
	}
	completeCatch(s, i, deps, guess)
}

// completeCatch claims the guild's live spawn for a guess. Exactly one guess
// can win a spawn; the claim is decided before any slow work so two
// simultaneous correct guesses cannot both land.
func completeCatch(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps, guess string) {
	user := interactionUser(i)

	sp := deps.Spawner.CurrentSpawn(i.GuildID)
	if sp == nil {
		reply(s, i, "There is nothing to catch right now.")
		return
	}
	if !sp.Figure.MatchesGuess(guess) {
		reply(s, i, "That is not the right name!")
		return
	}
	if !sp.Claim(user.ID) {
		reply(s, i, fmt.Sprintf("Too slow! %s was already caught.", sp.Figure.FullName))
		return
	}

	ctx := context.Background()
	player, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		reply(s, i, "Something went wrong recording your catch.")
		return
	}

	bonus := catchBonusRange
	if deps.Scripts != nil {
		bonus = deps.Scripts.CatchBonus(sp.Figure.ID, sp.Event != nil, bonus)
	}
	deps.RNGMu.Lock()
	hpBonus := rollBonus(deps.RNG, bonus)
	weightBonus := rollBonus(deps.RNG, bonus)
	deps.RNGMu.Unlock()

	row := &persist.InstanceRow{
		FigureID:        sp.Figure.ID,
		OwnerID:         player.ID,
		GuildID:         i.GuildID,
		HorsepowerBonus: hpBonus,
		WeightBonus:     weightBonus,
	}
	if sp.Event != nil {
		ev := sp.Event.ID
		row.EventID = &ev
	}
	if _, err := deps.Instances.Create(ctx, row); err != nil {
		deps.Log.Error("catch insert failed",
			zap.String("user", user.ID),
			zap.Int32("figure", sp.Figure.ID),
			zap.Error(err))
		reply(s, i, "Something went wrong recording your catch.")
		return
	}

	deps.invalidateGarage(player.ID)

	suffix := ""
	if sp.Event != nil {
		suffix = fmt.Sprintf(" (%s!)", sp.Event.Name)
	}
	announce(s, i, fmt.Sprintf("%s caught **%s**%s `#%d` (`%+d%%/%+d%%`)",
		user.Mention(), sp.Figure.FullName, suffix, row.ID, hpBonus, weightBonus))

	deps.Log.Info("figure caught",
		zap.String("guild", i.GuildID),
		zap.String("user", user.ID),
		zap.String("figure", sp.Figure.Name),
		zap.Int64("instance", row.ID))
}

// rollBonus draws a uniform stat bonus in [-half, +half] percent.
func rollBonus(rng *rand.Rand, half int) int16 {
	if half <= 0 {
		return 0
	}
	return int16(rng.Intn(2*half+1) - half)
}
