package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/persist"
	"github.com/carfigo/server/internal/session"
)

// HandleBeginExchange processes /trade and /battle — open a negotiation with
// another member. One session per user per guild; bots are not parties.
func HandleBeginExchange(s *discordgo.Session, i *discordgo.InteractionCreate,
	deps *Deps, outcome session.Outcome) {
	user := interactionUser(i)
	target := i.ApplicationCommandData().Options[0].UserValue(s)
	if target == nil {
		reply(s, i, "Pick a member to negotiate with.")
		return
	}
	if target.Bot {
		reply(s, i, "Bots do not collect carfigures.")
		return
	}

	ctx := context.Background()
	me, err := deps.Players.GetOrCreate(ctx, user.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", user.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	them, err := deps.Players.GetOrCreate(ctx, target.ID)
	if err != nil {
		deps.Log.Error("player lookup failed", zap.String("user", target.ID), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}

	_, err = deps.Sessions.Begin(ctx, i.GuildID, i.ChannelID,
		session.Member{UserID: user.ID, PlayerID: me.ID},
		session.Member{UserID: target.ID, PlayerID: them.ID},
		outcome)
	switch {
	case errors.Is(err, session.ErrSelfNegotiation):
		reply(s, i, "You cannot negotiate with yourself.")
	case errors.Is(err, session.ErrAlreadyNegotiating):
		reply(s, i, "One of you already has an open trade or battle in this server.")
	case err != nil:
		deps.Log.Error("begin negotiation failed", zap.Error(err))
		reply(s, i, "Could not open the negotiation.")
	default:
		reply(s, i, fmt.Sprintf("%s opened with %s. Use /add to stage your carfigures.",
			outcome.Kind(), target.Mention()))
	}
}

// HandleAddInstance processes /add <id> — stage an owned carfigure into the
// caller's proposal in their session in this channel.
func HandleAddInstance(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	id := i.ApplicationCommandData().Options[0].IntValue()

	sess := deps.Sessions.Find(i.GuildID, i.ChannelID, user.ID)
	if sess == nil {
		reply(s, i, "You have no open trade or battle in this channel.")
		return
	}

	ctx := context.Background()
	row, err := deps.Instances.Get(ctx, id)
	if err != nil {
		deps.Log.Error("instance lookup failed", zap.Int64("instance", id), zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	if row == nil {
		reply(s, i, fmt.Sprintf("No carfigure `#%d` exists.", id))
		return
	}

	err = sess.Add(ctx, user.ID, deps.toSessionInstance(row))
	switch {
	case errors.Is(err, session.ErrNotOwner):
		reply(s, i, "That carfigure is not yours.")
	case errors.Is(err, session.ErrAlreadyProposed):
		reply(s, i, "That carfigure is already on the table.")
	case errors.Is(err, session.ErrLockedElsewhere):
		reply(s, i, "That carfigure is tied up in another negotiation.")
	case errors.Is(err, session.ErrPartyLocked):
		reply(s, i, "You already locked your proposal.")
	case errors.Is(err, session.ErrProposalFull):
		reply(s, i, "Your proposal is full.")
	case errors.Is(err, session.ErrNotOpen), errors.Is(err, session.ErrSessionTerminal):
		reply(s, i, "This negotiation can no longer be edited.")
	case err != nil:
		deps.Log.Error("stage instance failed", zap.Int64("instance", id), zap.Error(err))
		reply(s, i, "Something went wrong.")
	default:
		reply(s, i, fmt.Sprintf("Added `#%d` to your proposal.", id))
	}
}

// HandleRemoveInstance processes /remove <id>.
func HandleRemoveInstance(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	id := i.ApplicationCommandData().Options[0].IntValue()

	sess := deps.Sessions.Find(i.GuildID, i.ChannelID, user.ID)
	if sess == nil {
		reply(s, i, "You have no open trade or battle in this channel.")
		return
	}

	err := sess.Remove(context.Background(), user.ID, id)
	switch {
	case errors.Is(err, session.ErrPartyLocked):
		reply(s, i, "You already locked your proposal.")
	case errors.Is(err, session.ErrAlreadyProposed):
		reply(s, i, "That carfigure is not on the table.")
	case errors.Is(err, session.ErrSessionTerminal):
		reply(s, i, "This negotiation already ended.")
	case err != nil:
		deps.Log.Error("unstage instance failed", zap.Int64("instance", id), zap.Error(err))
		reply(s, i, "Something went wrong.")
	default:
		reply(s, i, fmt.Sprintf("Removed `#%d` from your proposal.", id))
	}
}

// HandleLock freezes the pressing party's proposal.
func HandleLock(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	sess := deps.Sessions.Find(i.GuildID, i.ChannelID, user.ID)
	if sess == nil {
		reply(s, i, "This negotiation is not yours.")
		return
	}
	err := sess.Lock(context.Background(), user.ID)
	switch {
	case errors.Is(err, session.ErrNotParty):
		reply(s, i, "This negotiation is not yours.")
	case errors.Is(err, session.ErrAlreadyLocked):
		reply(s, i, "You already locked your proposal.")
	case errors.Is(err, session.ErrNotOpen), errors.Is(err, session.ErrSessionTerminal):
		reply(s, i, "This negotiation can no longer be edited.")
	case err != nil:
		deps.Log.Error("lock failed", zap.Error(err))
		reply(s, i, "Something went wrong.")
	default:
		ack(s, i)
	}
}

// HandleConfirm accepts the locked exchange; the second confirmation settles.
func HandleConfirm(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	sess := deps.Sessions.Find(i.GuildID, i.ChannelID, user.ID)
	if sess == nil {
		reply(s, i, "This negotiation is not yours.")
		return
	}
	err := sess.Confirm(context.Background(), user.ID)
	switch {
	case errors.Is(err, session.ErrNotParty):
		reply(s, i, "This negotiation is not yours.")
	case errors.Is(err, session.ErrNotLocked):
		reply(s, i, "Both proposals must be locked first.")
	case errors.Is(err, session.ErrOwnershipChanged):
		reply(s, i, "A staged carfigure changed hands; the exchange was voided.")
	case errors.Is(err, session.ErrSessionTerminal):
		reply(s, i, "This negotiation already ended.")
	case err != nil:
		// settle already logged the details
		reply(s, i, "Settlement failed; nothing was exchanged.")
	default:
		if p, ok := sess.Party(user.ID); ok {
			deps.invalidateGarage(p.PlayerID)
		}
		ack(s, i)
	}
}

// HandleCancel aborts the session from either party, any time before settlement.
func HandleCancel(s *discordgo.Session, i *discordgo.InteractionCreate, deps *Deps) {
	user := interactionUser(i)
	sess := deps.Sessions.Find(i.GuildID, i.ChannelID, user.ID)
	if sess == nil {
		reply(s, i, "This negotiation is not yours.")
		return
	}
	if err := sess.Cancel(context.Background(), user.ID); err != nil {
		if errors.Is(err, session.ErrNotParty) {
			reply(s, i, "This negotiation is not yours.")
			return
		}
		deps.Log.Error("cancel failed", zap.Error(err))
		reply(s, i, "Something went wrong.")
		return
	}
	ack(s, i)
}

// toSessionInstance resolves a stored row against the figure table into the
// in-memory view the negotiation engine works with. Bonuses are percentages
// applied to the template stats.
func (deps *Deps) toSessionInstance(row *persist.InstanceRow) session.Instance {
	inst := session.Instance{
		ID:       row.ID,
		FigureID: row.FigureID,
		OwnerID:  row.OwnerID,
		Favorite: row.Favorite,
	}
	if fig := deps.Figures.Get(row.FigureID); fig != nil {
		inst.Name = fig.Name
		inst.Horsepower = applyBonus(fig.Horsepower, row.HorsepowerBonus)
		inst.Weight = applyBonus(fig.Weight, row.WeightBonus)
	}
	return inst
}

func applyBonus(base int32, bonusPct int16) int32 {
	return base + base*int32(bonusPct)/100
}
