package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/data"
	"github.com/carfigo/server/internal/persist"
)

// garageCacheTTL bounds how stale an autocomplete suggestion list can get.
// Catches invalidate eagerly; transfers just ride out the window.
const garageCacheTTL = 30 * time.Second

// garageSource feeds a player's instance rows into the TTL cache.
type garageSource struct {
	repo     *persist.FigureRepo
	playerID int64
}

func (g garageSource) Key(row *persist.InstanceRow) string {
	return strconv.FormatInt(row.ID, 10)
}

func (g garageSource) Load(ctx context.Context) ([]*persist.InstanceRow, error) {
	rows, err := g.repo.ListByOwner(ctx, g.playerID)
	if err != nil {
		return nil, err
	}
	out := make([]*persist.InstanceRow, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// garage returns the caller's cached garage, creating the cache on first use.
func (deps *Deps) garage(playerID int64) *data.Cached[*persist.InstanceRow] {
	if c, ok := deps.garages.Load(playerID); ok {
		return c.(*data.Cached[*persist.InstanceRow])
	}
	c := data.NewCached[*persist.InstanceRow](
		garageSource{repo: deps.Instances, playerID: playerID}, garageCacheTTL)
	actual, _ := deps.garages.LoadOrStore(playerID, c)
	return actual.(*data.Cached[*persist.InstanceRow])
}

// invalidateGarage drops a player's cached garage after a known mutation.
func (deps *Deps) invalidateGarage(playerID int64) {
	if c, ok := deps.garages.Load(playerID); ok {
		c.(*data.Cached[*persist.InstanceRow]).Invalidate()
	}
}

// HandleGarageAutocomplete suggests the caller's own instances for any id
// option. Matches the typed partial against the instance id and figure name.
func HandleGarageAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	partial := focusedValue(i)

	ctx := context.Background()
	player, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		return
	}
	rows, err := deps.garage(player.ID).Items(ctx)
	if err != nil {
		deps.Log.Error("garage autocomplete query failed",
			zap.Int64("player", player.ID), zap.Error(err))
		return
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, row := range rows {
		name := fmt.Sprintf("figure %d", row.FigureID)
		if fig := deps.Figures.Get(row.FigureID); fig != nil {
			name = fig.FullName
		}
		idStr := strconv.FormatInt(row.ID, 10)
		if partial != "" &&
			!strings.HasPrefix(idStr, partial) &&
			!strings.Contains(strings.ToLower(name), strings.ToLower(partial)) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("#%s %s (%+d%%/%+d%%)", idStr, name, row.HorsepowerBonus, row.WeightBonus),
			Value: row.ID,
		})
		if len(choices) == 25 {
			break
		}
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

// focusedValue extracts the partial input of the focused option. Discord
// delivers it as a string regardless of the option's declared type.
func focusedValue(i *discordgo.InteractionCreate) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			return fmt.Sprint(opt.Value)
		}
	}
	return ""
}
